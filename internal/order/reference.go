package order

import (
	"crypto/rand"
	"fmt"
)

// referenceAlphabet omits characters easily confused when a reference is read
// aloud to support staff (no 0/O, 1/I/L).
const referenceAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const referenceLength = 9

// NewReference generates a human-readable order reference. References are
// the webhook correlation key, so they must be unique; the orders table
// enforces that with a unique index and Create retries on collision.
func NewReference() (string, error) {
	buf := make([]byte, referenceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("order: generate reference: %w", err)
	}
	out := make([]byte, referenceLength)
	for i, b := range buf {
		out[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return string(out), nil
}
