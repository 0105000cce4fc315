package multipart

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// boundaryBytes is the number of random bytes behind a boundary token.
const boundaryBytes = 16

// NewBoundary returns a fresh random boundary token. The token is 32 lower-case
// hex characters, which never need quoting in a Content-Type parameter.
func NewBoundary() (string, error) {
	var b [boundaryBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate boundary: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
