package bookauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenExpiryPasswordReset is how long a reset link stays valid
const TokenExpiryPasswordReset = 1 * time.Hour

// GenerateSecureToken generates a cryptographically secure random token
// (32 bytes, hex encoded to 64 characters).
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the digest that is persisted in place of a reset token.
// A fast hash is enough here since the input is 256 bits of randomness and
// not a guessable password.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
