// SPDX-License-Identifier: MIT

package presence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(config.DatabaseSettings{
		Type:             "sqlite",
		Path:             filepath.Join(t.TempDir(), "test.db"),
		PoolSize:         2,
		PoolOverflow:     2,
		TxRetries:        3,
		StatementTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFaculty(t *testing.T, db *store.Store, name, beacon string) *store.Faculty {
	t.Helper()
	f := &store.Faculty{
		Name:       name,
		Department: "CS",
		Email:      name + "@example.edu",
		BeaconID:   beacon,
		SyncState:  store.SyncPending,
	}
	require.NoError(t, db.CreateFaculty(context.Background(), f))
	return f
}

func startTracker(t *testing.T, db *store.Store, grace time.Duration) (*Tracker, <-chan StateChange) {
	t.Helper()
	tr := New(db, config.PresenceSettings{GraceInterval: grace, DeskStale: 5 * time.Minute})
	require.NoError(t, tr.Load(context.Background()))
	changes := tr.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() { cancel(); <-done })
	return tr, changes
}

func waitChange(t *testing.T, ch <-chan StateChange) StateChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state change")
		return StateChange{}
	}
}

func TestBeaconPresentMarksFaculty(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	db := newTestStore(t)
	f := seedFaculty(t, db, "ada", "AA:BB:CC:DD:EE:FF")
	tr, changes := startTracker(t, db, 45*time.Second)

	at := time.Now().UTC().Truncate(time.Second)
	tr.BeaconSighting("AA:BB:CC:DD:EE:FF", true, at)

	c := waitChange(t, changes)
	assert.Equal(t, f.ID, c.FacultyID)
	assert.True(t, c.Present)
	assert.False(t, c.GraceActive)
	assert.True(t, tr.Observed(f.ID))

	// Durable fields updated in the same event.
	require.Eventually(t, func() bool {
		row, err := db.FacultyByID(context.Background(), f.ID)
		return err == nil && row.Present && row.LastSeen != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGraceCancelledByRePresent(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	db := newTestStore(t)
	f := seedFaculty(t, db, "grace", "11:22:33:44:55:66")
	tr, changes := startTracker(t, db, 200*time.Millisecond)

	tr.BeaconSighting("11:22:33:44:55:66", true, time.Now())
	c := waitChange(t, changes)
	require.True(t, c.Present)

	// Departure arms grace; presence holds.
	tr.BeaconSighting("11:22:33:44:55:66", false, time.Now())
	c = waitChange(t, changes)
	assert.True(t, c.Present)
	assert.True(t, c.GraceActive)
	assert.True(t, tr.Observed(f.ID))

	// Re-present inside the window cancels the timer.
	tr.BeaconSighting("11:22:33:44:55:66", true, time.Now())
	c = waitChange(t, changes)
	assert.True(t, c.Present)
	assert.False(t, c.GraceActive)

	// Well past the original window: no present=false ever arrives.
	select {
	case c := <-changes:
		assert.True(t, c.Present, "no absence transition may fire after a cancelled grace window")
	case <-time.After(400 * time.Millisecond):
	}
	assert.True(t, tr.Observed(f.ID))
}

func TestGraceExpiryMarksAbsent(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	db := newTestStore(t)
	f := seedFaculty(t, db, "gone", "77:88:99:AA:BB:CC")
	tr, changes := startTracker(t, db, 50*time.Millisecond)

	tr.BeaconSighting("77:88:99:AA:BB:CC", true, time.Now())
	waitChange(t, changes)

	tr.BeaconSighting("77:88:99:AA:BB:CC", false, time.Now())
	c := waitChange(t, changes)
	require.True(t, c.GraceActive)

	c = waitChange(t, changes)
	assert.False(t, c.Present)
	assert.False(t, c.GraceActive)
	assert.False(t, tr.Observed(f.ID))

	require.Eventually(t, func() bool {
		row, err := db.FacultyByID(context.Background(), f.ID)
		return err == nil && !row.Present && !row.GraceActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAlwaysPresentOverride(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	db := newTestStore(t)
	f := seedFaculty(t, db, "head", "")
	tr, changes := startTracker(t, db, 45*time.Second)

	require.False(t, tr.Observed(f.ID))

	tr.SetAlwaysPresent(f.ID, true)
	c := waitChange(t, changes)
	assert.True(t, c.Present)
	assert.True(t, tr.Observed(f.ID))

	tr.SetAlwaysPresent(f.ID, false)
	c = waitChange(t, changes)
	assert.False(t, c.Present)
	assert.False(t, tr.Observed(f.ID))
}

func TestReassignmentMovesBeacon(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	db := newTestStore(t)
	old := seedFaculty(t, db, "old", "DE:AD:BE:EF:00:01")
	fresh := seedFaculty(t, db, "fresh", "")
	tr, changes := startTracker(t, db, 100*time.Millisecond)

	tr.BeaconSighting("DE:AD:BE:EF:00:01", true, time.Now())
	waitChange(t, changes)

	tr.NotifyReassigned(old.ID, fresh.ID, "DE:AD:BE:EF:00:01", time.Now())

	// Old holder enters grace, new holder arrives.
	seen := map[int64]StateChange{}
	for i := 0; i < 2; i++ {
		c := waitChange(t, changes)
		seen[c.FacultyID] = c
	}
	require.Contains(t, seen, old.ID)
	require.Contains(t, seen, fresh.ID)
	assert.True(t, seen[old.ID].GraceActive)
	assert.True(t, seen[fresh.ID].Present)

	// Beacon now resolves to the new faculty only.
	tr.BeaconSighting("DE:AD:BE:EF:00:01", false, time.Now())
	c := waitChange(t, changes)
	assert.Equal(t, fresh.ID, c.FacultyID)
}

func TestSyncReportUpdatesStateOnly(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	db := newTestStore(t)
	f := seedFaculty(t, db, "sync", "")
	tr, changes := startTracker(t, db, 45*time.Second)

	tr.SyncReport(f.ID, store.SyncSynced, time.Now())

	require.Eventually(t, func() bool {
		row, err := db.FacultyByID(context.Background(), f.ID)
		return err == nil && row.SyncState == store.SyncSynced
	}, 2*time.Second, 10*time.Millisecond)

	// No presence change emitted for a pure sync report.
	select {
	case c := <-changes:
		t.Fatalf("unexpected state change: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, tr.Observed(f.ID))
}

func TestSnapshotReflectsLiveState(t *testing.T) {
	db := newTestStore(t)
	a := seedFaculty(t, db, "a", "")
	b := seedFaculty(t, db, "b", "")
	require.NoError(t, db.SetAlwaysPresent(context.Background(), b.ID, true))

	tr := New(db, config.PresenceSettings{GraceInterval: 45 * time.Second})
	require.NoError(t, tr.Load(context.Background()))

	views := tr.Snapshot()
	require.Len(t, views, 2)
	byID := map[int64]View{}
	for _, v := range views {
		byID[v.FacultyID] = v
	}
	assert.False(t, byID[a.ID].Observed)
	assert.True(t, byID[b.ID].Observed)
	assert.True(t, byID[b.ID].AlwaysPresent)
}
