package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, hash, err := tg.GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, hash, 64, "sha256 hex digest")
	assert.Equal(t, tg.HashToken(token), hash)
	assert.NoError(t, tg.ValidateTokenFormat(token))
}

func TestGenerateToken_Unique(t *testing.T) {
	tg := NewTokenGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, err := tg.GenerateToken()
		require.NoError(t, err)
		assert.False(t, seen[token], "token collision")
		seen[token] = true
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	tg := NewTokenGenerator()
	assert.Equal(t, tg.HashToken("cvt_abc"), tg.HashToken("cvt_abc"))
	assert.NotEqual(t, tg.HashToken("cvt_abc"), tg.HashToken("cvt_abd"))
}

func TestValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"missing prefix", "abc123", true},
		{"empty after prefix", "cvt_", true},
		{"invalid base64url", "cvt_!!!!", true},
		{"valid", "cvt_YWJjZGVmZ2hpamtsbW5vcA", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
