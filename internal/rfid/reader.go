// SPDX-License-Identifier: MIT

// Package rfid reads card scans from a keyboard-class input device.
// Key presses accumulate into a buffer flushed on the terminator or
// after a silence debounce; duplicate scans inside a window are
// suppressed. The reader survives device loss with backoff-based
// reconnects, falls back to simulation when the hardware is gone, and
// always releases the exclusive grab on exit.
package rfid

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/metrics"
)

const (
	scanBuffer    = 16
	eventBuffer   = 8
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
	devInputDir   = "/dev/input"
)

// Scan is one assembled card read.
type Scan struct {
	UID string
	At  time.Time
}

// EventKind classifies reader lifecycle events.
type EventKind string

const (
	EventDeviceLost  EventKind = "device_lost"
	EventDeviceFound EventKind = "device_found"
	EventSimulation  EventKind = "simulation"
)

// Event informs callers (admin surface) about reader health.
type Event struct {
	Kind   EventKind
	Device string
	Err    error
	At     time.Time
}

// Reader is the RFID input adapter. Scans() is a single-consumer
// channel.
type Reader struct {
	cfg    config.RFIDSettings
	logger zerolog.Logger

	scans  chan Scan
	events chan Event
	simCh  chan string

	open openFunc

	mu      sync.Mutex
	lastUID string
	lastAt  time.Time
	buf     strings.Builder
}

// Option customizes a Reader; tests swap the device opener.
type Option func(*Reader)

// WithOpener replaces hardware device resolution.
func WithOpener(fn openFunc) Option {
	return func(r *Reader) { r.open = fn }
}

// New builds a reader. Run starts it.
func New(cfg config.RFIDSettings, opts ...Option) *Reader {
	r := &Reader{
		cfg:    cfg,
		logger: log.WithComponent("rfid"),
		scans:  make(chan Scan, scanBuffer),
		events: make(chan Event, eventBuffer),
		simCh:  make(chan string, scanBuffer),
	}
	r.open = func() (inputDevice, string, error) {
		return resolveDevice(cfg.DevicePath, cfg.VendorID, cfg.ProductID)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scans returns the scan channel. Exactly one consumer must drain it.
func (r *Reader) Scans() <-chan Scan { return r.scans }

// Events returns reader lifecycle notifications. Best-effort delivery.
func (r *Reader) Events() <-chan Event { return r.events }

// Simulate injects a scan identical in shape to a hardware read. Works
// in every mode; this is the dev-hook entry point.
func (r *Reader) Simulate(uid string) {
	select {
	case r.simCh <- uid:
	default:
		r.logger.Warn().Str("event", "rfid.simulate_dropped").Msg("simulation buffer full")
	}
}

// Run drives the reader until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) error {
	if r.cfg.Simulation {
		r.logger.Info().Str("event", "rfid.simulation").Msg("running in simulation mode")
		metrics.RFIDSimulationMode.Set(1)
		r.notify(Event{Kind: EventSimulation, At: time.Now()})
		return r.runSimulation(ctx, nil)
	}

	backoff := reconnectBase
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		dev, path, err := r.open()
		if err != nil {
			failures++
			metrics.RFIDReconnectsTotal.Inc()
			if failures > r.cfg.MaxReconnects {
				// Hardware is gone. Tell the operator and keep the
				// kiosk usable via simulation until a device returns.
				r.logger.Error().Err(err).Str("event", "rfid.device_lost").Msg("reader unavailable, falling back to simulation")
				r.notify(Event{Kind: EventDeviceLost, Err: err, At: time.Now()})
				metrics.RFIDSimulationMode.Set(1)
				if err := r.runSimulation(ctx, r.hotplugWatcher()); err != nil || ctx.Err() != nil {
					return nil
				}
				// A device appeared; try hardware again.
				failures = 0
				backoff = reconnectBase
				continue
			}
			r.logger.Warn().Err(err).Dur("retry_in", backoff).
				Str("event", "rfid.open_failed").Msg("reader not openable")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		failures = 0
		backoff = reconnectBase
		metrics.RFIDSimulationMode.Set(0)

		r.logger.Info().Str(log.FieldDevice, path).Str("event", "rfid.device_ready").Msg("reader attached")
		r.notify(Event{Kind: EventDeviceFound, Device: path, At: time.Now()})

		err = r.readLoop(ctx, dev)
		if ctx.Err() != nil {
			return nil
		}
		metrics.RFIDReconnectsTotal.Inc()
		r.logger.Warn().Err(err).Str(log.FieldDevice, path).
			Str("event", "rfid.read_failed").Msg("reader lost, reconnecting")
	}
}

// readLoop owns one grabbed device until read error or cancellation.
// The grab is released on every exit path.
func (r *Reader) readLoop(ctx context.Context, dev inputDevice) error {
	if err := dev.Grab(); err != nil {
		r.logger.Warn().Err(err).Str("event", "rfid.grab_failed").Msg("exclusive grab refused, reading shared")
	}
	defer func() {
		_ = dev.Ungrab()
		_ = dev.Close()
	}()

	type key struct {
		ch         rune
		terminator bool
	}
	keych := make(chan key, scanBuffer)
	errch := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			ev, err := dev.ReadOne()
			if err != nil {
				select {
				case errch <- err:
				case <-done:
				}
				return
			}
			ch, term, ok := decodeKey(ev)
			if !ok {
				continue
			}
			select {
			case keych <- key{ch: ch, terminator: term}:
			case <-done:
				return
			}
		}
	}()

	debounce := time.NewTimer(r.cfg.Debounce)
	defer debounce.Stop()
	stopTimer := func() {
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
	}
	stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errch:
			r.flush(ctx)
			return err
		case uid := <-r.simCh:
			r.emit(ctx, uid, time.Now())
		case k := <-keych:
			if k.terminator {
				stopTimer()
				r.flush(ctx)
				continue
			}
			r.mu.Lock()
			r.buf.WriteRune(k.ch)
			r.mu.Unlock()
			stopTimer()
			debounce.Reset(r.cfg.Debounce)
		case <-debounce.C:
			// Silence flush: readers without a terminator key still
			// produce a scan.
			r.flush(ctx)
		}
	}
}

// runSimulation serves injected scans. A non-nil watcher returns control
// to the hardware path when something appears under /dev/input.
func (r *Reader) runSimulation(ctx context.Context, watcher *fsnotify.Watcher) error {
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}
	var hotplug chan fsnotify.Event
	if watcher != nil {
		hotplug = make(chan fsnotify.Event)
		go func() {
			for ev := range watcher.Events {
				if ev.Op&fsnotify.Create != 0 {
					select {
					case hotplug <- ev:
					case <-ctx.Done():
					}
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case uid := <-r.simCh:
			r.emit(ctx, uid, time.Now())
		case ev := <-hotplug:
			r.logger.Info().Str(log.FieldDevice, ev.Name).
				Str("event", "rfid.hotplug").Msg("input device appeared, leaving simulation")
			return nil
		}
	}
}

// hotplugWatcher watches /dev/input for new devices; nil when the
// watch cannot be established (non-Linux dev hosts).
func (r *Reader) hotplugWatcher() *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(devInputDir); err != nil {
		_ = w.Close()
		return nil
	}
	return w
}

// flush emits the accumulated buffer as one scan.
func (r *Reader) flush(ctx context.Context) {
	r.mu.Lock()
	uid := r.buf.String()
	r.buf.Reset()
	r.mu.Unlock()
	if uid == "" {
		return
	}
	r.emit(ctx, uid, time.Now())
}

// emit applies duplicate suppression and hands the scan to the consumer.
func (r *Reader) emit(ctx context.Context, uid string, at time.Time) {
	uid = strings.ToUpper(strings.TrimSpace(uid))
	if uid == "" {
		return
	}

	r.mu.Lock()
	duplicate := uid == r.lastUID && at.Sub(r.lastAt) < r.cfg.DuplicateWindow
	if !duplicate {
		r.lastUID = uid
		r.lastAt = at
	}
	r.mu.Unlock()

	if duplicate {
		metrics.RFIDScansTotal.WithLabelValues("duplicate").Inc()
		r.logger.Debug().Str("event", "rfid.duplicate_scan").Msg("duplicate scan suppressed")
		return
	}

	select {
	case r.scans <- Scan{UID: uid, At: at}:
	case <-ctx.Done():
	}
}

func (r *Reader) notify(ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectCap {
		return reconnectCap
	}
	return next
}
