// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seed folds parts into a stable 64-bit value, joining them with a unit
// separator so ("ab","c") and ("a","bc") differ.
func (h *Hasher) Seed(parts ...string) uint64 {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return binary.BigEndian.Uint64(sum[:8])
}
