// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"time"
)

const pruneInterval = 24 * time.Hour

// RunRetention prunes audit records past the retention horizon once at
// startup and then daily, until the context is cancelled. Retention is
// expressed in days; zero or negative disables pruning entirely.
func (r *Recorder) RunRetention(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		r.logger.Info().Str("event", "audit.retention_disabled").Msg("audit retention pruning disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	r.pruneOnce(ctx, retentionDays)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pruneOnce(ctx, retentionDays)
		}
	}
}

func (r *Recorder) pruneOnce(ctx context.Context, retentionDays int) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := r.db.PruneAuditBefore(ctx, cutoff)
	if err != nil {
		r.logger.Warn().Err(err).Str("event", "audit.prune_failed").Msg("retention prune failed")
		return
	}
	if n > 0 {
		r.logger.Info().
			Int64("pruned", n).
			Time("cutoff", cutoff).
			Str("event", "audit.pruned").
			Msg("expired audit records removed")
	}
}
