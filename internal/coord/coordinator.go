// SPDX-License-Identifier: MIT

// Package coord assembles the system: it constructs every component in
// dependency order, routes events between them, and supervises their
// goroutines until shutdown.
package coord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/consultease/central/internal/adminops"
	"github.com/consultease/central/internal/api"
	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/auth"
	"github.com/consultease/central/internal/bus"
	"github.com/consultease/central/internal/cache"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/consult"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/presence"
	"github.com/consultease/central/internal/rfid"
	"github.com/consultease/central/internal/store"
)

// ErrStoreOpen marks a failure to open the persistence layer, so the
// entrypoint can exit with the dedicated status code.
var ErrStoreOpen = errors.New("persistence unavailable")

// ShutdownHook performs one cleanup step. Hooks run in reverse
// registration order, each under its own slice of the shutdown budget.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

type options struct {
	busOpts  []bus.Option
	rfidOpts []rfid.Option
	scan     auth.ScanHandler
}

// Option customizes construction; tests swap the broker link and the
// input device opener.
type Option func(*options)

// WithBusOptions forwards options to the broker client.
func WithBusOptions(opts ...bus.Option) Option {
	return func(o *options) { o.busOpts = append(o.busOpts, opts...) }
}

// WithRFIDOptions forwards options to the card reader.
func WithRFIDOptions(opts ...rfid.Option) Option {
	return func(o *options) { o.rfidOpts = append(o.rfidOpts, opts...) }
}

// WithScanHandler installs the consumer of resolved card scans. The
// default handler only logs.
func WithScanHandler(h auth.ScanHandler) Option {
	return func(o *options) { o.scan = h }
}

// Coordinator owns every long-lived component and their wiring.
type Coordinator struct {
	cfg    config.Settings
	logger zerolog.Logger

	DB       *store.Store
	Recorder *audit.Recorder
	Cache    cache.Cache
	Bus      *bus.Client
	Presence *presence.Tracker
	Consult  *consult.Engine
	Reader   *rfid.Reader
	Auth     *auth.Service
	Admin    *adminops.Service

	ops  *http.Server
	scan auth.ScanHandler

	mu      sync.Mutex
	hooks   []namedHook
	started bool
}

// New constructs the full component graph in dependency order: store,
// audit, cache, bus, presence, consultations, rfid, auth, adminops and
// the ops HTTP surface. Nothing runs until Start.
func New(cfg config.Settings, opts ...Option) (*Coordinator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: log.WithComponent("coord"),
		scan:   o.scan,
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreOpen, err)
	}
	c.DB = db
	c.registerHook("store", func(context.Context) error { return db.Close() })

	c.Recorder = audit.NewRecorder(db)

	lookup, err := cache.New(cfg.Cache)
	if err != nil {
		_ = c.runHooks(context.Background())
		return nil, fmt.Errorf("open cache: %w", err)
	}
	c.Cache = lookup
	c.registerHook("cache", func(context.Context) error { return lookup.Close() })

	b, err := bus.New(cfg.Broker, o.busOpts...)
	if err != nil {
		_ = c.runHooks(context.Background())
		return nil, fmt.Errorf("open broker client: %w", err)
	}
	c.Bus = b

	c.Presence = presence.New(db, cfg.Presence)
	c.Consult = consult.New(db, b, c.Recorder, cfg.Consult)
	c.Reader = rfid.New(cfg.RFID, o.rfidOpts...)
	c.Auth = auth.New(db, c.Recorder, lookup, cfg.Security, cfg.Cache.TTL)
	c.Admin = adminops.New(db, c.Recorder, c.Auth, c.Presence, cfg.Security)

	if c.scan == nil {
		c.scan = auth.ScanHandlerFunc(func(st *store.Student, uid string, err error) {
			if err != nil {
				c.logger.Warn().Err(err).Str("event", "coord.scan_rejected").Msg("card scan rejected")
				return
			}
			c.logger.Info().Int64(log.FieldStudentID, st.ID).
				Str("event", "coord.scan_resolved").Msg("card scan resolved")
		})
	}

	c.ops = &http.Server{
		Addr: cfg.Server.OpsAddr,
		Handler: api.New(api.Deps{
			DB:         db,
			Bus:        b,
			Reader:     c.Reader,
			Presence:   c.Presence,
			Simulation: cfg.RFID.Simulation,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return c, nil
}

// Start runs every component and blocks until ctx is cancelled or a
// component fails fatally. Shutdown is always attempted, LIFO, under the
// configured budget.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	c.Recorder.System(ctx, audit.EventSystemStart, "central server starting")

	// Durable state first, so the live views match the database before
	// any event can arrive.
	if err := c.Presence.Load(ctx); err != nil {
		return fmt.Errorf("load presence state: %w", err)
	}
	if err := c.Consult.Load(ctx); err != nil {
		return fmt.Errorf("load pending consultations: %w", err)
	}

	// Subscriptions registered before the broker connects are applied on
	// the first CONNACK, so no desk message slips through the gap.
	c.routeBus()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Bus.Run(gctx) })
	g.Go(func() error { return c.Presence.Run(gctx) })
	g.Go(func() error { return c.Consult.Run(gctx) })
	g.Go(func() error { return c.Reader.Run(gctx) })
	g.Go(func() error { return c.Auth.Sessions.RunJanitor(gctx) })
	g.Go(func() error {
		c.Recorder.RunRetention(gctx, c.cfg.Audit.RetentionDays)
		return nil
	})
	g.Go(func() error { return c.pumpScans(gctx) })
	g.Go(func() error { return c.pumpPresence(gctx) })
	g.Go(func() error { return c.pumpReaderEvents(gctx) })

	g.Go(func() error {
		c.logger.Info().Str("addr", c.ops.Addr).Str("event", "coord.ops_listening").
			Msg("ops server listening")
		if err := c.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), c.cfg.Server.ShutdownTimeout)
		defer cancel()
		return c.ops.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	c.Recorder.System(shutdownCtx, audit.EventSystemStop, "central server stopping")
	if err := c.runHooks(shutdownCtx); err != nil {
		if runErr != nil {
			return errors.Join(runErr, err)
		}
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	c.logger.Info().Str("event", "coord.stopped").Msg("central server stopped cleanly")
	return nil
}

func (c *Coordinator) registerHook(name string, hook ShutdownHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, namedHook{name: name, hook: hook})
	c.mu.Unlock()
}

// runHooks executes shutdown hooks in reverse registration order. Every
// hook runs; failures are collected, not short-circuited.
func (c *Coordinator) runHooks(ctx context.Context) error {
	c.mu.Lock()
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			c.logger.Error().Err(err).Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Str("event", "coord.hook_failed").Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		c.logger.Debug().Str("hook", h.name).
			Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	return nil
}
