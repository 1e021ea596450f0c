// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/fault"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("S3cure!Pass", 10)
	require.NoError(t, err)

	ok, legacy := VerifyPassword("S3cure!Pass", hash, "")
	assert.True(t, ok)
	assert.False(t, legacy)

	ok, _ = VerifyPassword("S3cure!Pasz", hash, "")
	assert.False(t, ok)
}

func TestVerifyLegacyHash(t *testing.T) {
	salt := "pepper"
	sum := sha256.Sum256([]byte(salt + "S3cure!Pass"))
	legacyHash := hex.EncodeToString(sum[:])

	ok, legacy := VerifyPassword("S3cure!Pass", legacyHash, salt)
	assert.True(t, ok)
	assert.True(t, legacy, "salted-SHA256 must be flagged for rehash")

	ok, legacy = VerifyPassword("wrong", legacyHash, salt)
	assert.False(t, ok)
	assert.True(t, legacy)
}

func TestCheckPolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantCode string
	}{
		{"strong", "Tr0ng!Pass", ""},
		{"too short", "A1!a", "password.length"},
		{"no upper", "weak1pass!", "password.classes"},
		{"no digit", "Weak!Pass", "password.classes"},
		{"no special", "Weak1Pass", "password.classes"},
		{"well-known fragment", "Password1!", "password.weak"},
		{"qwerty core", "Qwerty12!", "password.weak"},
		{"fragment diluted enough", "xPassword1!longer-suffix9Z", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPolicy(tt.password)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.Validation))
			assert.Equal(t, tt.wantCode, fault.CodeOf(err))
		})
	}
}
