package domain

import (
	"crypto/rand"
	"fmt"
	"time"
)

// idAlphabet avoids ambiguous characters on printed receipts.
const idAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOrderID returns a date-prefixed order id with a random suffix,
// e.g. "ORD-20260901-K3QV7M2T".
func NewOrderID(now time.Time) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), string(buf))
}
