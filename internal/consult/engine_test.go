// SPDX-License-Identifier: MIT

package consult

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/bus"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/store"
)

type published struct {
	topic   string
	payload []byte
	durable bool
}

// fakePublisher records publishes instead of talking to a broker.
type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	fail     bool
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{topic: topic, payload: payload})
}

func (p *fakePublisher) PublishDurable(topic string, payload []byte, qos byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("spool unavailable")
	}
	p.messages = append(p.messages, published{topic: topic, payload: payload, durable: true})
	return nil
}

func (p *fakePublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func testSettings() config.ConsultSettings {
	return config.ConsultSettings{
		SweepInterval:     30 * time.Second,
		ReattemptInterval: 60 * time.Second,
		MaxAttempts:       5,
		MaxRequestLen:     2000,
		MaxCourseLen:      64,
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakePublisher) {
	t.Helper()
	db, err := store.Open(config.DatabaseSettings{
		Type:             "sqlite",
		Path:             filepath.Join(t.TempDir(), "test.db"),
		PoolSize:         2,
		PoolOverflow:     2,
		TxRetries:        3,
		StatementTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pub := &fakePublisher{}
	e := New(db, pub, audit.NewRecorder(db), testSettings())
	return e, db, pub
}

func seed(t *testing.T, db *store.Store) (*store.Student, *store.Faculty) {
	t.Helper()
	ctx := context.Background()
	st := &store.Student{Name: "Alice", Department: "CS", RFIDUID: "TESTCARD123"}
	require.NoError(t, db.CreateStudent(ctx, st))
	f := &store.Faculty{Name: "Dr. Bob", Department: "CS", Email: "bob@example.edu", AlwaysPresent: true, SyncState: store.SyncPending}
	require.NoError(t, db.CreateFaculty(ctx, f))
	return st, f
}

func TestCreateDispatchesPendingRequest(t *testing.T) {
	e, db, pub := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "Need help with project", "CS101")
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	assert.Equal(t, store.StatusPending, c.Status)
	assert.False(t, c.RequestedAt.IsZero())

	row, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, row.Status)

	msgs := pub.byTopic(bus.RequestsTopic(f.ID))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].durable)

	var req bus.Request
	require.NoError(t, json.Unmarshal(msgs[0].payload, &req))
	assert.Equal(t, c.ID, req.ConsultationID)
	assert.Equal(t, "Alice", req.StudentName)
	assert.Equal(t, "Need help with project", req.Message)
}

func TestCreateValidation(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	_, err := e.Create(ctx, st.ID, f.ID, "   ", "")
	assert.True(t, fault.IsKind(err, fault.Validation))

	_, err = e.Create(ctx, st.ID, f.ID, strings.Repeat("x", 2001), "")
	assert.True(t, fault.IsKind(err, fault.Validation))

	_, err = e.Create(ctx, st.ID, f.ID, "hi", strings.Repeat("c", 65))
	assert.True(t, fault.IsKind(err, fault.Validation))

	_, err = e.Create(ctx, 9999, f.ID, "hi", "")
	assert.True(t, fault.IsKind(err, fault.NotFound))

	_, err = e.Create(ctx, st.ID, 9999, "hi", "")
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestCreateRejectsDuplicateOpenRequest(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	_, err := e.Create(ctx, st.ID, f.ID, "first", "")
	require.NoError(t, err)

	_, err = e.Create(ctx, st.ID, f.ID, "second", "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Conflict))
	assert.Equal(t, "consultation.duplicate", fault.CodeOf(err))
}

func TestAcceptSetsRespondedAt(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)

	at := time.Now().UTC()
	got, err := e.Apply(ctx, c.ID, ActionAccept, at)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAccepted, got.Status)
	require.NotNil(t, got.RespondedAt)

	row, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAccepted, row.Status)
	assert.NotNil(t, row.RespondedAt)
	assert.Nil(t, row.CompletedAt)
}

func TestFullLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
		final   store.ConsultationStatus
	}{
		{"accept then complete", []Action{ActionAccept, ActionComplete}, store.StatusCompleted},
		{"accept busy cancel", []Action{ActionAccept, ActionBusy, ActionCancel}, store.StatusCancelled},
		{"student cancels pending", []Action{ActionCancel}, store.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, db, _ := newTestEngine(t)
			st, f := seed(t, db)
			ctx := context.Background()

			c, err := e.Create(ctx, st.ID, f.ID, "question", "")
			require.NoError(t, err)

			for _, a := range tt.actions {
				_, err = e.Apply(ctx, c.ID, a, time.Now())
				require.NoError(t, err)
			}

			row, err := db.ConsultationByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.final, row.Status)
			assert.NotNil(t, row.CompletedAt)
		})
	}
}

func TestTerminalTransitionRejected(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)
	_, err = e.Apply(ctx, c.ID, ActionAccept, time.Now())
	require.NoError(t, err)
	_, err = e.Apply(ctx, c.ID, ActionComplete, time.Now())
	require.NoError(t, err)

	before, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)

	// A late accept on a completed row is refused, never applied.
	_, err = e.Apply(ctx, c.ID, ActionAccept, time.Now())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Conflict))
	assert.Equal(t, "consultation.state", fault.CodeOf(err))

	after, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CompletedAt.Unix(), after.CompletedAt.Unix())

	// The refused edge leaves a warning in the audit trail.
	records, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, r := range records {
		if r.Action == string(audit.EventConsultationMoved) && r.Outcome == store.AuditWarning {
			found = true
		}
	}
	assert.True(t, found, "expected a warning audit record for the refused transition")
}

func TestIllegalEdgesRejected(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)

	// No skip from pending to completed or busy.
	_, err = e.Apply(ctx, c.ID, ActionComplete, time.Now())
	assert.True(t, fault.IsKind(err, fault.Conflict))
	_, err = e.Apply(ctx, c.ID, ActionBusy, time.Now())
	assert.True(t, fault.IsKind(err, fault.Conflict))

	row, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, row.Status)
}

func TestHandleResponseChecksDeskOwnership(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	other := &store.Faculty{Name: "Eve", Department: "EE", Email: "eve@example.edu", SyncState: store.SyncPending}
	require.NoError(t, db.CreateFaculty(ctx, other))

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)

	err = e.HandleResponse(ctx, other.ID, bus.Response{ConsultationID: c.ID, Action: "accept"})
	require.Error(t, err)
	assert.Equal(t, "consultation.wrong_desk", fault.CodeOf(err))

	require.NoError(t, e.HandleResponse(ctx, f.ID, bus.Response{ConsultationID: c.ID, Action: "accept", At: time.Now()}))
	row, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAccepted, row.Status)
}

func TestHandleResponseRejectsUnknownAction(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)

	err = e.HandleResponse(ctx, f.ID, bus.Response{ConsultationID: c.ID, Action: "approve"})
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestSweeperRepublishesStalePending(t *testing.T) {
	e, db, pub := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)
	require.Len(t, pub.byTopic(bus.RequestsTopic(f.ID)), 1)

	// Fresh dispatch: not yet stale.
	e.SweepOnce(ctx, time.Now())
	require.Len(t, pub.byTopic(bus.RequestsTopic(f.ID)), 1)

	// Past the reattempt interval: one re-publish.
	e.SweepOnce(ctx, time.Now().Add(2*time.Minute))
	msgs := pub.byTopic(bus.RequestsTopic(f.ID))
	require.Len(t, msgs, 2)

	var req bus.Request
	require.NoError(t, json.Unmarshal(msgs[1].payload, &req))
	assert.Equal(t, c.ID, req.ConsultationID)

	// Acknowledged consultations leave the sweep set.
	_, err = e.Apply(ctx, c.ID, ActionAccept, time.Now())
	require.NoError(t, err)
	e.SweepOnce(ctx, time.Now().Add(10*time.Minute))
	assert.Len(t, pub.byTopic(bus.RequestsTopic(f.ID)), 2)
}

func TestSweeperCapStaysPendingWithWarning(t *testing.T) {
	e, db, pub := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "question", "")
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 10; i++ {
		now = now.Add(2 * time.Minute)
		e.SweepOnce(ctx, now)
	}

	// attempts capped at MaxAttempts: 1 initial + 4 sweeps.
	assert.Len(t, pub.byTopic(bus.RequestsTopic(f.ID)), 5)

	// Still pending, never auto-cancelled.
	row, err := db.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, row.Status)

	// Exactly one exhaustion warning despite repeated sweeps.
	records, err := db.RecentAudit(ctx, 50)
	require.NoError(t, err)
	warnings := 0
	for _, r := range records {
		if r.Action == string(audit.EventDispatchExhausted) {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestLoadRebuildsPendingIndex(t *testing.T) {
	e, db, _ := newTestEngine(t)
	st, f := seed(t, db)
	ctx := context.Background()

	c, err := e.Create(ctx, st.ID, f.ID, "survives restart", "")
	require.NoError(t, err)

	// A second engine on the same store simulates a restart.
	pub2 := &fakePublisher{}
	e2 := New(db, pub2, audit.NewRecorder(db), testSettings())
	require.NoError(t, e2.Load(ctx))

	e2.SweepOnce(ctx, time.Now().Add(2*time.Minute))
	msgs := pub2.byTopic(bus.RequestsTopic(f.ID))
	require.Len(t, msgs, 1)

	var req bus.Request
	require.NoError(t, json.Unmarshal(msgs[0].payload, &req))
	assert.Equal(t, c.ID, req.ConsultationID)
}
