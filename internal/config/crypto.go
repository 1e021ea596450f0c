// SPDX-License-Identifier: MIT

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// envelopePrefix marks values produced by Encrypt. Decrypt is a no-op on
	// anything that does not carry it.
	envelopePrefix = "enc:v1:"

	kdfIterations = 150_000
	saltLen       = 16
	masterKeyLen  = 32
)

var errEnvelopeCorrupt = errors.New("config: encrypted value is corrupt")

// Keyring derives and caches per-salt AES keys from the master secret.
type Keyring struct {
	mu     sync.Mutex
	secret []byte
	keys   map[string][]byte // base64(salt) -> derived key
}

// LoadKeyring reads the master secret from path, generating and persisting a
// fresh one (owner-only permissions) when the file does not exist yet.
func LoadKeyring(path string) (*Keyring, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		secret := []byte(strings.TrimSpace(string(raw)))
		if len(secret) == 0 {
			return nil, fmt.Errorf("config: master secret %s is empty", path)
		}
		return newKeyring(secret), nil
	case os.IsNotExist(err):
		secret := make([]byte, masterKeyLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("config: generate master secret: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(secret)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("config: create secret dir: %w", err)
		}
		if err := renameio.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("config: persist master secret: %w", err)
		}
		return newKeyring([]byte(encoded)), nil
	default:
		return nil, fmt.Errorf("config: read master secret: %w", err)
	}
}

func newKeyring(secret []byte) *Keyring {
	return &Keyring{secret: secret, keys: make(map[string][]byte)}
}

func (k *Keyring) derive(salt []byte) []byte {
	id := base64.RawStdEncoding.EncodeToString(salt)
	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[id]; ok {
		return key
	}
	key := pbkdf2.Key(k.secret, salt, kdfIterations, 32, sha256.New)
	k.keys[id] = key
	return key
}

// Encrypt seals a value into an enc:v1 envelope. Encrypting an existing
// envelope returns it unchanged.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	if strings.HasPrefix(plaintext, envelopePrefix) {
		return plaintext, nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("config: salt: %w", err)
	}
	block, err := aes.NewCipher(k.derive(salt))
	if err != nil {
		return "", fmt.Errorf("config: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("config: nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	enc := base64.RawStdEncoding
	return envelopePrefix + enc.EncodeToString(salt) + ":" + enc.EncodeToString(nonce) + ":" + enc.EncodeToString(sealed), nil
}

// Decrypt opens an enc:v1 envelope. Values without the envelope prefix are
// returned unchanged; a malformed or tampered envelope is an error.
func (k *Keyring) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, envelopePrefix) {
		return value, nil
	}
	parts := strings.Split(strings.TrimPrefix(value, envelopePrefix), ":")
	if len(parts) != 3 {
		return "", errEnvelopeCorrupt
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[0])
	if err != nil || len(salt) != saltLen {
		return "", errEnvelopeCorrupt
	}
	nonce, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", errEnvelopeCorrupt
	}
	sealed, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", errEnvelopeCorrupt
	}
	block, err := aes.NewCipher(k.derive(salt))
	if err != nil {
		return "", fmt.Errorf("config: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errEnvelopeCorrupt
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errEnvelopeCorrupt
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries an enc:v1 envelope.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}
