// SPDX-License-Identifier: MIT

package health

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/config"
)

func validSettings(t *testing.T) config.Settings {
	t.Helper()
	dir := t.TempDir()
	return config.Settings{
		DataDir: dir,
		Server:  config.ServerSettings{OpsAddr: "127.0.0.1:8081"},
		Database: config.DatabaseSettings{
			Type: "sqlite",
			Path: filepath.Join(dir, "consultease.db"),
		},
		Broker: config.BrokerSettings{SpoolPath: filepath.Join(dir, "spool")},
	}
}

func TestStartupChecksPass(t *testing.T) {
	require.NoError(t, PerformStartupChecks(validSettings(t)))
}

func TestStartupChecksCreateMissingDirs(t *testing.T) {
	cfg := validSettings(t)
	cfg.DataDir = filepath.Join(cfg.DataDir, "nested", "data")
	cfg.Broker.SpoolPath = filepath.Join(cfg.DataDir, "spool")
	assert.NoError(t, PerformStartupChecks(cfg))
}

func TestStartupChecksRejectBadAddr(t *testing.T) {
	cfg := validSettings(t)
	cfg.Server.OpsAddr = "no-port-here"
	err := PerformStartupChecks(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ops address")
}
