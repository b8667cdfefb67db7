package order

import (
	"crypto/rand"
	"time"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference returns a human-readable order reference of the form
// PREFIX-YYYYMMDD-XXXXXX.
func NewReference(prefix string, now time.Time) string {
	var buf [6]byte
	// rand.Read never returns an error.
	_, _ = rand.Read(buf[:])
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return prefix + "-" + now.UTC().Format("20060102") + "-" + string(suffix)
}
