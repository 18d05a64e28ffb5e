package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SessionTokenPrefix identifies session tokens
	SessionTokenPrefix = "phs_"
	// CSRFTokenPrefix identifies CSRF tokens
	CSRFTokenPrefix = "phc_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// encodedLength is the base64url length of TokenLength bytes without padding
var encodedLength = base64.RawURLEncoding.EncodedLen(TokenLength)

// GenerateToken creates a new opaque token
// Format: <prefix><base64url(32 random bytes)>
// Example: phs_Q2xhdWRlIGlzIG5vdCBoZXJl...
func GenerateToken(prefix string) (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// HashToken computes the SHA256 hash of a token. Only hashes are stored.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks prefix, length and encoding without touching storage
func ValidateTokenFormat(token, prefix string) error {
	if !strings.HasPrefix(token, prefix) {
		return fmt.Errorf("token must start with %q", prefix)
	}

	encodedPart := strings.TrimPrefix(token, prefix)
	if len(encodedPart) != encodedLength {
		return fmt.Errorf("token has invalid length")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// DisplayPrefix returns the first characters of a token for logs
func DisplayPrefix(token string) string {
	const n = 12
	if len(token) <= n {
		return token
	}
	return token[:n]
}
