// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes used across the settlement engine.
const (
	PrefixWallet  = "wal_"
	PrefixEntry   = "led_"
	PrefixOrder   = "ord_"
	PrefixEscrow  = "esc_"
	PrefixDispute = "dsp_"
	PrefixPayout  = "pay_"
	PrefixEvent   = "evt_"
)

// WithPrefix generates a random ID with a prefix (e.g. "esc_", "pay_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
