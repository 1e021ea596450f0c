// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/consultease/central/internal/log"
)

// Store holds the layered settings map. Values are keyed by dotted path
// ("broker.port") and carry their source layer for diagnostics.
type Store struct {
	mu      sync.RWMutex
	path    string
	keyring *Keyring
	values  map[string]any
	sources map[string]string
}

// NewStore builds a store bound to the given settings file. The encrypted
// sibling is derived by appending ".enc". The keyring may be nil, in which
// case encrypted values pass through untouched.
func NewStore(path string, keyring *Keyring) *Store {
	return &Store{
		path:    path,
		keyring: keyring,
		values:  make(map[string]any),
		sources: make(map[string]string),
	}
}

// Load populates the store by layering, in order: built-in defaults, the
// encrypted settings blob, the plain settings file, and environment
// variables. A corrupt or unreadable layer is logged and skipped; the
// layers beneath it still apply.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.WithComponent("config")

	s.values = make(map[string]any)
	s.sources = make(map[string]string)
	for k, v := range Defaults() {
		s.values[k] = v
		s.sources[k] = "default"
	}

	encPath := s.path + ".enc"
	if loaded, err := s.loadFile(encPath, true); err != nil {
		logger.Warn().Err(err).Str("path", encPath).
			Str("event", "config.blob_corrupt").
			Msg("encrypted settings unreadable, falling back to plain file")
	} else if loaded {
		logger.Info().Str("path", encPath).Str("event", "config.loaded").Msg("encrypted settings loaded")
	}

	if loaded, err := s.loadFile(s.path, false); err != nil {
		logger.Warn().Err(err).Str("path", s.path).
			Str("event", "config.file_corrupt").
			Msg("settings file unreadable, using defaults")
	} else if loaded {
		logger.Info().Str("path", s.path).Str("event", "config.loaded").Msg("settings file loaded")
	}

	s.applyEnv()
	return nil
}

// loadFile merges one JSON settings document into the store. The bool
// reports whether a file was present at all; absence is not an error.
func (s *Store) loadFile(path string, encrypted bool) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parse settings: %w", err)
	}

	source := "file"
	if encrypted {
		source = "encrypted"
	}
	flat := Flatten(doc)
	for k, v := range flat {
		if sv, ok := v.(string); ok && encrypted && s.keyring != nil && IsEncrypted(sv) {
			plain, err := s.keyring.Decrypt(sv)
			if err != nil {
				return false, fmt.Errorf("decrypt %s: %w", k, err)
			}
			v = plain
		}
		s.values[k] = v
		s.sources[k] = source
	}
	return true, nil
}

// Get returns the raw value for a dotted key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value for key as a string, or def when absent.
func (s *Store) GetString(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		switch sv := v.(type) {
		case string:
			return sv
		case fmt.Stringer:
			return sv.String()
		default:
			return fmt.Sprintf("%v", sv)
		}
	}
	return def
}

// GetInt returns the value for key as an int, or def when absent or
// unparseable. JSON numbers arrive as float64 and are truncated.
func (s *Store) GetInt(key string, def int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := parseIntString(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool returns the value for key as a bool, or def when absent.
func (s *Store) GetBool(key string, def bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return def
}

// GetDuration returns the value for key parsed as a Go duration string,
// or def when absent or invalid. Bare numbers are read as seconds.
func (s *Store) GetDuration(key string, def time.Duration) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case float64:
		return time.Duration(d) * time.Second
	case int:
		return time.Duration(d) * time.Second
	}
	return def
}

// Set stores a value under a dotted key. Values for keys registered in
// EncryptedKeys are sealed with the keyring before they land in memory,
// so a later SaveEncrypted never writes them in the clear.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := value.(string); ok && EncryptedKeys[key] && s.keyring != nil {
		sealed, err := s.keyring.Encrypt(sv)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		value = sealed
	}
	s.values[key] = value
	s.sources[key] = "runtime"
	return nil
}

// Source reports which layer a key's current value came from.
func (s *Store) Source(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sources[key]
}

// SaveEncrypted writes the current settings to the encrypted sibling file
// atomically. Sensitive values that are still plaintext in memory are
// sealed on the way out; everything else is written as-is.
func (s *Store) SaveEncrypted() error {
	s.mu.RLock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		if sv, ok := v.(string); ok && EncryptedKeys[k] && s.keyring != nil && sv != "" {
			sealed, err := s.keyring.Encrypt(sv)
			if err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("encrypt %s: %w", k, err)
			}
			v = sealed
		}
		out[k] = v
	}
	s.mu.RUnlock()

	doc := Unflatten(out)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	encPath := s.path + ".enc"
	if err := renameio.WriteFile(encPath, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	logger := log.WithComponent("config")
	logger.Info().
		Str("path", encPath).
		Str("event", "config.saved").
		Msg("encrypted settings written")
	return nil
}

// Snapshot returns a copy of all current values, with encrypted envelopes
// decrypted when a keyring is present. Intended for diagnostics.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		if sv, ok := v.(string); ok && s.keyring != nil && IsEncrypted(sv) {
			if plain, err := s.keyring.Decrypt(sv); err == nil {
				v = plain
			}
		}
		out[k] = v
	}
	return out
}

// Flatten converts a nested JSON document into dotted-key form. Nested
// maps recurse; arrays and scalars are leaves.
func Flatten(doc map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, doc map[string]any) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// Unflatten is the inverse of Flatten: dotted keys become nested maps.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := splitDots(k)
		node := out
		for i, p := range parts {
			if i == len(parts)-1 {
				node[p] = v
				break
			}
			next, ok := node[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[p] = next
			}
			node = next
		}
	}
	return out
}

func splitDots(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	return append(parts, key[start:])
}

func parseIntString(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}
