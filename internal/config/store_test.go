// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, doc map[string]any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestLoadDefaultsOnly(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.json"), nil)
	require.NoError(t, s.Load())

	assert.Equal(t, "sqlite", s.GetString("database.type", ""))
	assert.Equal(t, 1883, s.GetInt("broker.port", 0))
	assert.Equal(t, 45*time.Second, s.GetDuration("presence.grace_interval", 0))
	assert.Equal(t, "default", s.Source("database.type"))
}

func TestLoadPlainFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeJSON(t, path, map[string]any{
		"broker": map[string]any{"host": "mqtt.lab.internal", "port": 8883},
	})

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	assert.Equal(t, "mqtt.lab.internal", s.GetString("broker.host", ""))
	assert.Equal(t, 8883, s.GetInt("broker.port", 0))
	assert.Equal(t, "file", s.Source("broker.host"))
	// untouched keys keep their defaults
	assert.Equal(t, "consultease-central", s.GetString("broker.client_id", ""))
}

func TestLoadCorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	assert.Equal(t, "sqlite", s.GetString("database.type", ""))
}

func TestSaveEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kr, err := LoadKeyring(filepath.Join(dir, "secret.key"))
	require.NoError(t, err)
	path := filepath.Join(dir, "settings.json")

	s := NewStore(path, kr)
	require.NoError(t, s.Load())
	require.NoError(t, s.Set("broker.password", "hunter2"))
	require.NoError(t, s.Set("broker.host", "mqtt.lab.internal"))
	require.NoError(t, s.SaveEncrypted())

	// on disk the sensitive value is an envelope, never plaintext
	raw, err := os.ReadFile(path + ".enc")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.Contains(t, string(raw), "enc:v1:")

	s2 := NewStore(path, kr)
	require.NoError(t, s2.Load())
	assert.Equal(t, "hunter2", s2.GetString("broker.password", ""))
	assert.Equal(t, "mqtt.lab.internal", s2.GetString("broker.host", ""))
	assert.Equal(t, "encrypted", s2.Source("broker.password"))
}

func TestLoadCorruptBlobFallsBackToPlainFile(t *testing.T) {
	dir := t.TempDir()
	kr, err := LoadKeyring(filepath.Join(dir, "secret.key"))
	require.NoError(t, err)
	path := filepath.Join(dir, "settings.json")

	require.NoError(t, os.WriteFile(path+".enc", []byte("garbage"), 0o600))
	writeJSON(t, path, map[string]any{
		"broker": map[string]any{"host": "fallback.lab.internal"},
	})

	s := NewStore(path, kr)
	require.NoError(t, s.Load())
	assert.Equal(t, "fallback.lab.internal", s.GetString("broker.host", ""))
}

func TestEnvOverridesBeatFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeJSON(t, path, map[string]any{
		"database": map[string]any{"type": "sqlite"},
	})

	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("DB_HOST", "db.lab.internal")
	t.Setenv("DB_POOL_SIZE", "12")
	t.Setenv("RFID_SIMULATION_MODE", "true")

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	assert.Equal(t, "postgres", s.GetString("database.type", ""))
	assert.Equal(t, "db.lab.internal", s.GetString("database.host", ""))
	assert.Equal(t, 12, s.GetInt("database.pool_size", 0))
	assert.True(t, s.GetBool("rfid.simulation", false))
	assert.Equal(t, "environment", s.Source("database.type"))
}

func TestFlattenUnflattenInverse(t *testing.T) {
	doc := map[string]any{
		"database": map[string]any{
			"type": "sqlite",
			"pool": map[string]any{"size": float64(5)},
		},
		"data_dir": "./data",
	}
	flat := Flatten(doc)
	assert.Equal(t, "sqlite", flat["database.type"])
	assert.Equal(t, float64(5), flat["database.pool.size"])
	if diff := cmp.Diff(doc, Unflatten(flat)); diff != "" {
		t.Errorf("unflatten mismatch (-want +got):\n%s", diff)
	}
}

func TestMaterializeDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeJSON(t, path, map[string]any{
		"broker":   map[string]any{"host": "mqtt.lab.internal"},
		"presence": map[string]any{"grace_interval": "30s"},
	})

	load := func() Settings {
		s := NewStore(path, nil)
		require.NoError(t, s.Load())
		return Materialize(s)
	}
	if diff := cmp.Diff(load(), load()); diff != "" {
		t.Errorf("materialize not deterministic (-first +second):\n%s", diff)
	}
}

func TestMaterializeAndValidate(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.json"), nil)
	require.NoError(t, s.Load())

	set := Materialize(s)
	require.NoError(t, set.Validate())

	assert.Equal(t, filepath.Join("./data", "consultease.db"), set.Database.Path)
	assert.Equal(t, 45*time.Second, set.Presence.GraceInterval)
	assert.Equal(t, 5, set.Consult.MaxAttempts)
	assert.Equal(t, 12, set.Security.BcryptCost)

	bad := set
	bad.Database.Type = "oracle"
	assert.Error(t, bad.Validate())

	bad = set
	bad.Cache.Backend = "redis"
	bad.Cache.RedisAddr = ""
	assert.Error(t, bad.Validate())
}
