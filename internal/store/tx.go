// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/metrics"
	"github.com/consultease/central/internal/telemetry"
)

const (
	txBackoffBase = 50 * time.Millisecond
	txBackoffCap  = 2 * time.Second
)

// WithTx runs fn inside a transaction: commit on success, rollback on
// error or panic. Transient failures (busy database, serialization
// conflicts, dead connections) are retried with exponential backoff and
// jitter up to database.tx_retries; everything else returns immediately.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := s.guard(); err != nil {
		return err
	}

	ctx, span := telemetry.Tracer("store").Start(ctx, "store.tx")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.TxRetries; attempt++ {
		if attempt > 0 {
			metrics.StoreTxRetriesTotal.Inc()
			select {
			case <-time.After(txBackoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			s.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
		s.logger.Debug().Err(err).Int("attempt", attempt+1).
			Str("event", "store.tx_retry").
			Msg("transient transaction failure")
	}

	s.observe(lastErr)
	span.SetAttributes(telemetry.ErrorAttributes(lastErr, string(fault.KindOf(lastErr)))...)
	if isRetryable(lastErr) {
		metrics.StoreTxFailuresTotal.Inc()
		return fault.Wrap(fault.Transient, "store.tx", "transaction did not complete", lastErr)
	}
	return lastErr
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	db := s.handle()

	// Per-checkout liveness ping with a single retry; a dead idle
	// connection is discarded by the pool on the first failure.
	if pingErr := db.PingContext(ctx); pingErr != nil {
		if pingErr = db.PingContext(ctx); pingErr != nil {
			return pingErr
		}
	}

	if s.cfg.StatementTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.StatementTimeout)
			defer cancel()
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func txBackoff(attempt int) time.Duration {
	d := txBackoffBase << (attempt - 1)
	if d > txBackoffCap {
		d = txBackoffCap
	}
	// full jitter keeps concurrent retries from colliding again
	return time.Duration(rand.Int63n(int64(d)) + int64(d)/2)
}

// isRetryable classifies errors worth another transaction attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if fault.IsTransient(err) {
		return true
	}
	if isConnErr(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") // connection class
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// isConnErr reports connection-level failures that count against the
// checkout breaker.
func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe")
}

// rebind converts ?-style placeholders to the dialect of the executor.
func rebind(ext sqlx.ExtContext, query string) string {
	return sqlx.Rebind(sqlx.BindType(ext.DriverName()), query)
}
