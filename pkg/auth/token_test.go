package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(SessionTokenPrefix)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, SessionTokenPrefix))
	assert.NoError(t, ValidateTokenFormat(token, SessionTokenPrefix))

	other, err := GenerateToken(SessionTokenPrefix)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("phs_abc")
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, HashToken("phs_abc"))
	assert.NotEqual(t, h1, HashToken("phs_abd"))
}

func TestValidateTokenFormat(t *testing.T) {
	good, err := GenerateToken(CSRFTokenPrefix)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", good, false},
		{"wrong prefix", strings.Replace(good, CSRFTokenPrefix, SessionTokenPrefix, 1), true},
		{"empty", "", true},
		{"prefix only", CSRFTokenPrefix, true},
		{"truncated", good[:len(good)-1], true},
		{"bad encoding", CSRFTokenPrefix + strings.Repeat("!", encodedLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenFormat(tt.token, CSRFTokenPrefix)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDisplayPrefix(t *testing.T) {
	assert.Equal(t, "phs_", DisplayPrefix("phs_"))
	assert.Equal(t, "phs_abcdefgh", DisplayPrefix("phs_abcdefghijkl"))
}
