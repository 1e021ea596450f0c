// SPDX-License-Identifier: MIT

// centrald is the ConsultEase central coordination server.
//
// Subcommands:
//
//	run           start the server (default)
//	selfcheck     validate environment and persistence, then exit
//	create-admin  create the bootstrap administrator account
//	version       print build information
//
// Exit codes: 0 success, 2 configuration error, 3 persistence
// unavailable, 4 selfcheck failed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/consultease/central/internal/adminops"
	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/coord"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/health"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/rfid"
	"github.com/consultease/central/internal/store"
	"github.com/consultease/central/internal/telemetry"
	"github.com/consultease/central/internal/version"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitPersistence = 3
	exitSelfcheck   = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Development convenience only; a missing .env is the normal case.
	_ = godotenv.Load()

	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("centrald", flag.ContinueOnError)
	dataDir := fs.String("data", config.ParseString("CONSULTEASE_DATA", "./data"),
		"data directory (settings, database, spool)")
	username := fs.String("username", "", "admin username (create-admin)")
	password := fs.String("password", "", "admin password (create-admin, or CONSULTEASE_ADMIN_PASSWORD)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if *showVersion || cmd == "version" {
		fmt.Printf("centrald %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return exitOK
	}

	keyring, err := config.LoadKeyring(filepath.Join(*dataDir, "secret.key"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "centrald: %v\n", err)
		return exitConfig
	}
	cfgStore := config.NewStore(filepath.Join(*dataDir, "settings.json"), keyring)
	if err := cfgStore.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "centrald: load settings: %v\n", err)
		return exitConfig
	}
	if err := cfgStore.Set("data_dir", *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "centrald: %v\n", err)
		return exitConfig
	}
	settings := config.Materialize(cfgStore)
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "centrald: invalid configuration: %v\n", err)
		return exitConfig
	}

	log.Configure(log.Config{
		Level:   settings.LogLevel,
		Service: "consultease-central",
		Version: version.Version,
	})

	switch cmd {
	case "run":
		return cmdRun(settings)
	case "selfcheck":
		return cmdSelfcheck(settings)
	case "create-admin":
		pw := *password
		if pw == "" {
			pw = os.Getenv("CONSULTEASE_ADMIN_PASSWORD")
		}
		return cmdCreateAdmin(settings, *username, pw)
	default:
		fmt.Fprintf(os.Stderr, "centrald: unknown command %q\n", cmd)
		return exitConfig
	}
}

func cmdRun(settings config.Settings) int {
	logger := log.WithComponent("main")

	if err := health.PerformStartupChecks(settings); err != nil {
		logger.Error().Err(err).Str("event", "main.selfcheck_failed").Msg("startup checks failed")
		return exitSelfcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        settings.Telemetry.Enabled,
		ServiceName:    "consultease-central",
		ServiceVersion: version.Version,
		ExporterType:   settings.Telemetry.Exporter,
		Endpoint:       settings.Telemetry.Endpoint,
		SamplingRate:   settings.Telemetry.Sampling,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "main.telemetry_failed").Msg("telemetry init failed")
		return exitConfig
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	c, err := coord.New(settings)
	if err != nil {
		logger.Error().Err(err).Str("event", "main.init_failed").Msg("initialization failed")
		if errors.Is(err, coord.ErrStoreOpen) {
			return exitPersistence
		}
		return exitConfig
	}

	logger.Info().Str("version", version.Version).Str("event", "main.starting").
		Msg("central server starting")
	if err := c.Start(ctx); err != nil {
		logger.Error().Err(err).Str("event", "main.failed").Msg("central server failed")
		return exitFailure
	}
	return exitOK
}

func cmdSelfcheck(settings config.Settings) int {
	logger := log.WithComponent("selfcheck")

	if err := health.PerformStartupChecks(settings); err != nil {
		logger.Error().Err(err).Str("event", "selfcheck.failed").Msg("environment checks failed")
		return exitSelfcheck
	}

	db, err := store.Open(settings.Database)
	if err != nil {
		logger.Error().Err(err).Str("event", "selfcheck.store_failed").Msg("persistence unavailable")
		return exitPersistence
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		logger.Error().Err(err).Str("event", "selfcheck.ping_failed").Msg("persistence unavailable")
		return exitPersistence
	}

	// Broker reachability is informational: the durable spool buffers
	// outbound traffic across outages.
	addr := net.JoinHostPort(settings.Broker.Host, strconv.Itoa(settings.Broker.Port))
	if conn, err := net.DialTimeout("tcp", addr, 3*time.Second); err != nil {
		logger.Warn().Err(err).Str("addr", addr).
			Str("event", "selfcheck.broker_unreachable").Msg("broker not reachable")
	} else {
		_ = conn.Close()
	}

	if err := rfid.Probe(settings.RFID); err != nil {
		logger.Error().Err(err).Str("event", "selfcheck.rfid_failed").Msg("card reader not usable")
		return exitSelfcheck
	}

	logger.Info().Str("event", "selfcheck.passed").Msg("selfcheck passed")
	return exitOK
}

func cmdCreateAdmin(settings config.Settings, username, password string) int {
	logger := log.WithComponent("create-admin")

	if username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "centrald: create-admin requires --username and --password")
		return exitConfig
	}

	db, err := store.Open(settings.Database)
	if err != nil {
		logger.Error().Err(err).Str("event", "create_admin.store_failed").Msg("persistence unavailable")
		return exitPersistence
	}
	defer func() { _ = db.Close() }()

	svc := adminops.New(db, audit.NewRecorder(db), nil, nil, settings.Security)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := svc.EnsureFirstAdmin(ctx, username, password)
	if err != nil {
		if fault.IsKind(err, fault.Conflict) {
			fmt.Fprintln(os.Stderr, "centrald: an administrator already exists; create further accounts from the admin surface")
		} else {
			fmt.Fprintf(os.Stderr, "centrald: %v\n", err)
		}
		return exitFailure
	}
	fmt.Printf("administrator %q created (id %d); the password must be changed at first login\n",
		a.Username, a.ID)
	return exitOK
}
