// Package cryptox holds small hashing helpers for secrets the server stores
// but never needs to read back.
package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenDigest returns the hex SHA-256 of token.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
