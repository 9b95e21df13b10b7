package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashID returns a deterministic SHA-256 hex id over the pipe-joined parts.
func HashID(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
