// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	kr, err := LoadKeyring(filepath.Join(t.TempDir(), "secret.key"))
	require.NoError(t, err)
	return kr
}

func TestKeyringRoundTrip(t *testing.T) {
	kr := newTestKeyring(t)

	for _, plain := range []string{
		"hunter2",
		"",
		"pa ss:with:colons and spaces",
		strings.Repeat("x", 4096),
		"ünïcodé-пароль",
	} {
		sealed, err := kr.Encrypt(plain)
		require.NoError(t, err)
		if plain != "" {
			assert.True(t, IsEncrypted(sealed))
			assert.NotContains(t, sealed, plain)
		}

		got, err := kr.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestDecryptPassesThroughPlaintext(t *testing.T) {
	kr := newTestKeyring(t)

	for _, v := range []string{"plain-password", "", "enc:v2:not-ours", "postgres"} {
		got, err := kr.Decrypt(v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestEncryptIdempotentOnEnvelopes(t *testing.T) {
	kr := newTestKeyring(t)

	sealed, err := kr.Encrypt("secret")
	require.NoError(t, err)

	again, err := kr.Encrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "sealing a sealed value must not double-wrap")
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	kr := newTestKeyring(t)

	sealed, err := kr.Encrypt("secret")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "AA"
	_, err = kr.Decrypt(tampered)
	assert.Error(t, err)

	_, err = kr.Decrypt("enc:v1:only-two-parts")
	assert.Error(t, err)
}

func TestKeyringPersistsMasterSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "secret.key")

	kr1, err := LoadKeyring(path)
	require.NoError(t, err)
	sealed, err := kr1.Encrypt("secret")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	kr2, err := LoadKeyring(path)
	require.NoError(t, err)
	got, err := kr2.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}

func TestKeyringsDoNotShareCiphertext(t *testing.T) {
	kr1 := newTestKeyring(t)
	kr2 := newTestKeyring(t)

	sealed, err := kr1.Encrypt("secret")
	require.NoError(t, err)

	_, err = kr2.Decrypt(sealed)
	assert.Error(t, err, "a foreign keyring must not open the envelope")
}
