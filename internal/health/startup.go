// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/log"
)

// PerformStartupChecks validates the environment before any component
// opens: it is the body of the selfcheck subcommand and runs again at
// normal startup.
func PerformStartupChecks(cfg config.Settings) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, cfg.Server.OpsAddr); err != nil {
		return fmt.Errorf("ops address check failed: %w", err)
	}
	if cfg.Database.Type == "sqlite" {
		if err := checkParentDir(logger, cfg.Database.Path); err != nil {
			return fmt.Errorf("database path check failed: %w", err)
		}
	}
	if err := checkSpoolDir(logger, cfg.Broker.SpoolPath); err != nil {
		return fmt.Errorf("spool directory check failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", path, err)
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data directory not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)
	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("ops listen address is valid")
	return nil
}

func checkParentDir(logger zerolog.Logger, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	logger.Info().Str("path", path).Msg("database location is usable")
	return nil
}

func checkSpoolDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create spool directory %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("spool directory is usable")
	return nil
}
