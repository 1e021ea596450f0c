// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/consultease/central/internal/metrics"
)

type auditRow struct {
	ID         int64         `db:"id"`
	ActorID    sql.NullInt64 `db:"actor_id"`
	ActorName  string        `db:"actor_name"`
	Action     string        `db:"action"`
	Resource   string        `db:"resource"`
	Details    string        `db:"details"`
	SourceAddr string        `db:"source_addr"`
	Outcome    string        `db:"outcome"`
	At         string        `db:"at"`
}

func (r auditRow) toRecord() AuditRecord {
	rec := AuditRecord{
		ID:         r.ID,
		ActorName:  r.ActorName,
		Action:     r.Action,
		Resource:   r.Resource,
		Details:    r.Details,
		SourceAddr: r.SourceAddr,
		Outcome:    AuditOutcome(r.Outcome),
		At:         parseTime(r.At),
	}
	if r.ActorID.Valid {
		id := r.ActorID.Int64
		rec.ActorID = &id
	}
	return rec
}

// AppendAudit writes one append-only audit record.
func (s *Store) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	if err := s.guard(); err != nil {
		return err
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if rec.Outcome == "" {
		rec.Outcome = AuditSuccess
	}

	var actorID sql.NullInt64
	if rec.ActorID != nil {
		actorID = sql.NullInt64{Int64: *rec.ActorID, Valid: true}
	}

	q := rebind(s.handle(), `INSERT INTO audit_log
		(actor_id, actor_name, action, resource, details, source_addr, outcome, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	id, err := execInsert(ctx, s.handle(), q,
		actorID, rec.ActorName, rec.Action, rec.Resource, rec.Details,
		rec.SourceAddr, string(rec.Outcome), formatTime(rec.At))
	s.observe(err)
	if err != nil {
		return err
	}
	rec.ID = id
	metrics.AuditRecordsTotal.WithLabelValues(rec.Action).Inc()
	return nil
}

// PruneAuditBefore deletes audit records older than the cutoff and
// returns how many were removed.
func (s *Store) PruneAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	q := rebind(s.handle(), `DELETE FROM audit_log WHERE at < ?`)
	res, err := s.handle().ExecContext(ctx, q, formatTime(cutoff))
	s.observe(err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecentAudit returns the newest audit records, bounded by limit.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows []auditRow
	q := rebind(s.handle(), `SELECT id, actor_id, actor_name, action, resource, details,
		source_addr, outcome, at FROM audit_log ORDER BY at DESC, id DESC LIMIT ?`)
	err := s.handle().SelectContext(ctx, &rows, q, limit)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	out := make([]AuditRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}
