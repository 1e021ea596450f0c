// SPDX-License-Identifier: MIT

// Package store provides durable persistence for students, faculty,
// consultations, admins and the audit log. It speaks sqlite (default,
// pure Go driver) or postgres, selected by configuration, behind one
// typed CRUD surface and a retry-aware transaction helper.
package store

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver, no CGO

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/resilience"
)

const (
	busyTimeout      = 5 * time.Second
	connMaxLifetime  = time.Hour
	connMaxIdleTime  = 5 * time.Minute
	breakerThreshold = 5
	breakerReset     = 15 * time.Second
)

// Store owns the connection pool and the schema.
type Store struct {
	mu      sync.RWMutex
	db      *sqlx.DB
	cfg     config.DatabaseSettings
	driver  string
	dsn     string
	logger  zerolog.Logger
	breaker *resilience.Breaker

	recreateOnce sync.Once
}

// Open connects to the configured database, sizes the pool and runs the
// idempotent startup migration.
func Open(cfg config.DatabaseSettings) (*Store, error) {
	driver, dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		driver: driver,
		dsn:    dsn,
		logger: log.WithComponent("store"),
	}
	s.breaker = resilience.New("store", breakerThreshold, breakerReset,
		resilience.WithTripHook(s.recreatePool))

	db, err := openPool(driver, dsn, cfg)
	if err != nil {
		return nil, fault.Wrap(fault.Fatal, "store.open", "database unreachable", err)
	}
	s.db = db

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fault.Wrap(fault.Fatal, "store.migrate", "schema migration failed", err)
	}

	s.logger.Info().
		Str("driver", driver).
		Int("pool_size", cfg.PoolSize).
		Int("pool_overflow", cfg.PoolOverflow).
		Str("event", "store.opened").
		Msg("database ready")
	return s, nil
}

func openPool(driver, dsn string, cfg config.DatabaseSettings) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PoolSize + cfg.PoolOverflow)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	return db, nil
}

func buildDSN(cfg config.DatabaseSettings) (driver, dsn string, err error) {
	switch cfg.Type {
	case "sqlite", "":
		// PRAGMAs ride the DSN so they apply to every pooled connection.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
			cfg.Path, busyTimeout.Milliseconds())
		return "sqlite", dsn, nil
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:     cfg.Name,
			RawQuery: "sslmode=prefer",
		}
		return "pgx", u.String(), nil
	default:
		return "", "", fault.Newf(fault.Validation, "store.driver", "unsupported database type %q", cfg.Type)
	}
}

// handle returns the current pool. The pointer is swapped by recreatePool,
// so callers must not cache it across calls.
func (s *Store) handle() *sqlx.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Driver reports the active driver name ("sqlite" or "pgx").
func (s *Store) Driver() string {
	return s.driver
}

// recreatePool disposes the pool and builds a fresh one after the breaker
// trips. It runs at most once per Store lifetime; if the rebuild fails the
// breaker stays open and operations keep surfacing transient faults.
func (s *Store) recreatePool() {
	s.recreateOnce.Do(func() {
		s.logger.Warn().Str("event", "store.pool_recreate").Msg("checkout failures tripped the breaker, recreating pool")

		fresh, err := openPool(s.driver, s.dsn, s.cfg)
		if err != nil {
			s.logger.Error().Err(err).Str("event", "store.pool_recreate_failed").Msg("pool rebuild failed")
			return
		}

		s.mu.Lock()
		old := s.db
		s.db = fresh
		s.mu.Unlock()

		_ = old.Close()
		s.breaker.RecordSuccess()
	})
}

// guard refuses work while the breaker is open.
func (s *Store) guard() error {
	if !s.breaker.Allow() {
		return fault.New(fault.Transient, "store.degraded", "database temporarily unavailable")
	}
	return nil
}

// observe feeds connection-class outcomes back into the breaker. Domain
// errors (not found, constraint violations) prove the database answered
// and count as success.
func (s *Store) observe(err error) {
	if err != nil && isConnErr(err) {
		s.breaker.RecordFailure()
		return
	}
	s.breaker.RecordSuccess()
}

// Ping verifies connectivity. Used by readiness and selfcheck.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.handle().PingContext(ctx)
	s.observe(err)
	if err != nil {
		return fault.Wrap(fault.Transient, "store.ping", "database unreachable", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
