// Package sha256 fingerprints rendered page content.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements audit.Hasher. Runs of whitespace are collapsed before
// hashing so that re-rendered pages differing only in formatting match.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 digest of the normalized input.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(bytes.Join(bytes.Fields(data), []byte{' '}))
	return hex.EncodeToString(sum[:]), nil
}
