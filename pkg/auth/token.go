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
	// TokenPrefix identifies session tokens issued by this service.
	TokenPrefix = "cvt_"
	// TokenLength is the number of random bytes per token (256 bits).
	TokenLength = 32
)

// TokenGenerator issues and hashes opaque session tokens.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new session token.
// Format: cvt_<base64url(32 random bytes)>. Only the SHA-256 hash is ever
// stored; the plaintext token is returned to the client exactly once.
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return fullToken, tg.HashToken(fullToken), nil
}

// HashToken computes the SHA-256 hex hash of a token for storage and lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks that a presented token has the expected shape
// before any database work is done.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
