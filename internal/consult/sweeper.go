// SPDX-License-Identifier: MIT

package consult

import (
	"context"
	"time"

	"github.com/consultease/central/internal/metrics"
)

// Run drives the dispatch sweeper until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.SweepOnce(ctx, now)
		}
	}
}

// SweepOnce re-publishes every pending dispatch older than the reattempt
// interval. A consultation that hits the attempt cap stays pending and
// produces exactly one warning audit record; it is never auto-cancelled.
func (e *Engine) SweepOnce(ctx context.Context, now time.Time) {
	metrics.SweeperRunsTotal.Inc()

	e.mu.Lock()
	var stale, exhausted []*dispatch
	for _, d := range e.inflight {
		if d.exhausted || now.Sub(d.lastAttempt) < e.cfg.ReattemptInterval {
			continue
		}
		if d.attempts >= e.cfg.MaxAttempts {
			d.exhausted = true
			exhausted = append(exhausted, d)
			continue
		}
		stale = append(stale, d)
	}
	metrics.PendingDispatches.Set(float64(len(e.inflight)))
	e.mu.Unlock()

	for _, d := range stale {
		metrics.DispatchRepublishedTotal.Inc()
		e.logger.Info().Int64("consultation_id", d.consultationID).
			Int("attempt", d.attempts+1).
			Str("event", "consult.dispatch_retry").Msg("re-publishing stale dispatch")
		e.send(d)
	}
	for _, d := range exhausted {
		metrics.DispatchExhaustedTotal.Inc()
		e.rec.DispatchExhausted(ctx, d.consultationID, d.attempts)
		e.logger.Warn().Int64("consultation_id", d.consultationID).
			Int("attempts", d.attempts).
			Str("event", "consult.dispatch_exhausted").Msg("attempt cap reached, consultation stays pending")
	}
}
