// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	db, err := store.Open(config.DatabaseSettings{
		Type:      "sqlite",
		Path:      filepath.Join(t.TempDir(), "audit.db"),
		PoolSize:  2,
		TxRetries: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRecorder(db), db
}

func TestRecordPersistsEvent(t *testing.T) {
	r, db := newTestRecorder(t)
	ctx := context.Background()

	adminID := int64(3)
	r.Record(ctx, Event{
		Type:       EventLoginSuccess,
		ActorID:    &adminID,
		ActorName:  "registrar",
		Action:     "logged in",
		Resource:   "admin/3",
		SourceAddr: "10.0.0.5",
	})

	recent, err := db.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, string(EventLoginSuccess), recent[0].Action)
	assert.Equal(t, "registrar", recent[0].ActorName)
	require.NotNil(t, recent[0].ActorID)
	assert.Equal(t, adminID, *recent[0].ActorID)
	assert.Equal(t, store.AuditSuccess, recent[0].Outcome)
	assert.Equal(t, "10.0.0.5", recent[0].SourceAddr)
}

func TestTypedHelpersSetOutcomes(t *testing.T) {
	r, db := newTestRecorder(t)
	ctx := context.Background()

	r.LoginFailure(ctx, "registrar", "10.0.0.5", "bad password")
	r.Lockout(ctx, "registrar", "10.0.0.5", 14*time.Minute)
	r.DispatchExhausted(ctx, 42, 5)
	r.System(ctx, EventSystemStart, "server started")

	recent, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)

	byAction := map[string]store.AuditRecord{}
	for _, rec := range recent {
		byAction[rec.Action] = rec
	}
	assert.Equal(t, store.AuditFailure, byAction[string(EventLoginFailure)].Outcome)
	assert.Equal(t, store.AuditWarning, byAction[string(EventLockout)].Outcome)
	assert.Equal(t, store.AuditWarning, byAction[string(EventDispatchExhausted)].Outcome)
	assert.Equal(t, "consultation/42", byAction[string(EventDispatchExhausted)].Resource)
	assert.Equal(t, store.AuditSuccess, byAction[string(EventSystemStart)].Outcome)
	assert.Contains(t, byAction[string(EventLockout)].Details, "remaining=14m0s")
}

func TestRetentionPrunesOldRecords(t *testing.T) {
	r, db := newTestRecorder(t)
	ctx := context.Background()

	old := &store.AuditRecord{Action: "ancient", At: time.Now().AddDate(0, 0, -120)}
	require.NoError(t, db.AppendAudit(ctx, old))
	r.System(ctx, EventSystemStart, "server started")

	r.pruneOnce(ctx, 90)

	recent, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, string(EventSystemStart), recent[0].Action)
}
