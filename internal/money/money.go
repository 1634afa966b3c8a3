// Package money handles amounts as integer minor-currency units.
//
// All balances, fees, and escrow totals are int64 minor units (e.g. cents).
// Nothing in the settlement core ever does floating-point arithmetic on
// money; parsing and formatting only happen at the HTTP edge.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// MinorPerMajor is the number of minor units in one major unit.
const MinorPerMajor = 100

// ParseMinor parses a decimal string like "12.34" or "100" into minor units.
// At most two fractional digits are accepted; negatives are allowed so that
// adjustment amounts can be parsed with the same helper.
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return 0, ErrInvalidAmount
		}
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if w > (math.MaxInt64-f)/MinorPerMajor {
		return 0, ErrInvalidAmount
	}

	v := w*MinorPerMajor + f
	if neg {
		v = -v
	}
	return v, nil
}

// FormatMinor renders minor units as a decimal string ("-12.34").
func FormatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/MinorPerMajor, v%MinorPerMajor)
}

// FeeFromBps computes a platform fee in minor units from basis points,
// rounding down so the fee never exceeds amount*bps/10000. The split
// keeps the intermediate products below amount for any bps < 10000, so
// the computation cannot overflow for any valid amount.
func FeeFromBps(amount int64, bps int64) int64 {
	if amount <= 0 || bps <= 0 || bps >= 10000 {
		return 0
	}
	q, r := amount/10000, amount%10000
	return q*bps + r*bps/10000
}

// CheckPositive validates a strictly positive amount.
func CheckPositive(v int64) error {
	if v <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Amount is a request-body amount in minor units. JSON numbers are taken
// as minor units directly; quoted decimal strings ("12.34") are major
// units parsed with ParseMinor. Handlers use it so clients can send
// either form.
type Amount int64

func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ErrInvalidAmount
		}
		v, err := ParseMinor(s)
		if err != nil {
			return err
		}
		*a = Amount(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return ErrInvalidAmount
	}
	*a = Amount(v)
	return nil
}
