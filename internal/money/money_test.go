package money

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseMinor(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 10000, false},
		{"12.34", 1234, false},
		{"0.05", 5, false},
		{"-3.50", -350, false},
		{".99", 99, false},
		{"12.", 1200, false},
		{"12.345", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"1.2.3", 0, true},
		{"92233720368547758.07", math.MaxInt64, false},
		{"92233720368547758.08", 0, true}, // one cent past int64
		{"99999999999999999999", 0, true},
	}

	for _, c := range cases {
		got, err := ParseMinor(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseMinor(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMinor(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseMinor(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(1234); got != "12.34" {
		t.Errorf("FormatMinor(1234) = %q", got)
	}
	if got := FormatMinor(-350); got != "-3.50" {
		t.Errorf("FormatMinor(-350) = %q", got)
	}
	if got := FormatMinor(5); got != "0.05" {
		t.Errorf("FormatMinor(5) = %q", got)
	}
}

func TestFeeFromBps(t *testing.T) {
	// 5.2% of $100.00
	if got := FeeFromBps(10000, 520); got != 520 {
		t.Errorf("FeeFromBps(10000, 520) = %d, want 520", got)
	}
	// Rounds down.
	if got := FeeFromBps(999, 520); got != 51 {
		t.Errorf("FeeFromBps(999, 520) = %d, want 51", got)
	}
	if got := FeeFromBps(-5, 520); got != 0 {
		t.Errorf("FeeFromBps(-5, 520) = %d, want 0", got)
	}
	// Exact even at the top of the range.
	if got := FeeFromBps(math.MaxInt64, 520); got != 479615345916448341 {
		t.Errorf("FeeFromBps(MaxInt64, 520) = %d, want 479615345916448341", got)
	}
}

func TestAmountUnmarshal(t *testing.T) {
	cases := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{`1234`, 1234, false},     // minor units
		{`"12.34"`, 1234, false},  // major-unit string
		{`"-3.50"`, -350, false},
		{`"12.345"`, 0, true},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}

	for _, c := range cases {
		var got Amount
		err := json.Unmarshal([]byte(c.in), &got)
		if c.wantErr {
			if err == nil {
				t.Errorf("Unmarshal(%s): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unmarshal(%s): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", c.in, got, c.want)
		}
	}
}
