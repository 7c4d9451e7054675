package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewID returns a best-effort unique identifier, optionally prefixed.
// The simulator uses it for server-assigned message and guest ids.
func NewID(prefix string) string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return prefix + hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return prefix + strconv.FormatInt(time.Now().UnixNano(), 10)
}
