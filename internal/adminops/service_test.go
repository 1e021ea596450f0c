// SPDX-License-Identifier: MIT

package adminops

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/auth"
	"github.com/consultease/central/internal/cache"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/store"
)

type fakePresence struct {
	mu         sync.Mutex
	tracked    []int64
	forgotten  []int64
	overridden map[int64]bool
	reassigned [][2]int64
}

func (p *fakePresence) TrackFaculty(f *store.Faculty) {
	p.mu.Lock()
	p.tracked = append(p.tracked, f.ID)
	p.mu.Unlock()
}

func (p *fakePresence) ForgetFaculty(id int64) {
	p.mu.Lock()
	p.forgotten = append(p.forgotten, id)
	p.mu.Unlock()
}

func (p *fakePresence) SetAlwaysPresent(id int64, v bool) {
	p.mu.Lock()
	if p.overridden == nil {
		p.overridden = make(map[int64]bool)
	}
	p.overridden[id] = v
	p.mu.Unlock()
}

func (p *fakePresence) NotifyReassigned(oldID, newID int64, _ string, _ time.Time) {
	p.mu.Lock()
	p.reassigned = append(p.reassigned, [2]int64{oldID, newID})
	p.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakePresence, *auth.Service) {
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

	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	sec := config.SecuritySettings{
		BcryptCost:         10,
		LockoutThreshold:   5,
		LockoutWindow:      900 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
	}
	rec := audit.NewRecorder(db)
	authSvc := auth.New(db, rec, c, sec, time.Minute)
	pres := &fakePresence{}
	return New(db, rec, authSvc, pres, sec), db, pres, authSvc
}

func admin() Actor { return Actor{ID: 1, Name: "root", Addr: "10.0.0.2"} }

func TestCreateStudentNormalizesUID(t *testing.T) {
	s, db, _, _ := newTestService(t)
	ctx := context.Background()

	st, err := s.CreateStudent(ctx, admin(), StudentParams{
		Name: "Alice", Department: "CS", RFIDUID: "  abcd1234  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", st.RFIDUID)

	got, err := db.StudentByRFID(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
}

func TestCreateStudentValidation(t *testing.T) {
	s, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    StudentParams
	}{
		{"missing name", StudentParams{Department: "CS", RFIDUID: "ABCD1234"}},
		{"uid too short", StudentParams{Name: "Bob", Department: "CS", RFIDUID: "AB"}},
		{"uid not alphanumeric", StudentParams{Name: "Bob", Department: "CS", RFIDUID: "AB:CD:12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateStudent(ctx, admin(), tt.p)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.Validation))
			assert.Equal(t, "student.invalid", fault.CodeOf(err))
		})
	}
}

func TestUpdateStudentInvalidatesScanCache(t *testing.T) {
	s, _, _, authSvc := newTestService(t)
	ctx := context.Background()

	st, err := s.CreateStudent(ctx, admin(), StudentParams{
		Name: "Alice", Department: "CS", RFIDUID: "OLDCARD1",
	})
	require.NoError(t, err)

	// Warm the scan cache with the old card.
	_, err = authSvc.AuthenticateStudent(ctx, "OLDCARD1")
	require.NoError(t, err)

	_, err = s.UpdateStudent(ctx, admin(), st.ID, StudentParams{
		Name: "Alice", Department: "CS", RFIDUID: "NEWCARD1",
	})
	require.NoError(t, err)

	// The old card no longer authenticates anyone.
	_, err = authSvc.AuthenticateStudent(ctx, "OLDCARD1")
	require.Error(t, err)
	assert.Equal(t, "unknown_card", fault.CodeOf(err))

	got, err := authSvc.AuthenticateStudent(ctx, "NEWCARD1")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
}

func TestDeleteStudentRevokesSessions(t *testing.T) {
	s, _, _, authSvc := newTestService(t)
	ctx := context.Background()

	st, err := s.CreateStudent(ctx, admin(), StudentParams{
		Name: "Bob", Department: "EE", RFIDUID: "CARD0042",
	})
	require.NoError(t, err)

	sess := authSvc.Sessions.Open(st.ID, auth.SubjectStudent, "kiosk", "")
	require.NoError(t, s.DeleteStudent(ctx, admin(), st.ID))

	_, ok := authSvc.Sessions.Validate(sess.ID)
	assert.False(t, ok, "kiosk session must die with the student record")
}

func TestCreateFacultyTracksPresence(t *testing.T) {
	s, _, pres, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Chen", Department: "Math", Email: "Chen@Example.EDU",
		BeaconID: "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)
	assert.Equal(t, "chen@example.edu", f.Email)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", f.BeaconID)
	assert.Contains(t, pres.tracked, f.ID)
}

func TestAssignBeaconFreshAssignment(t *testing.T) {
	s, db, pres, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Chen", Department: "Math", Email: "chen@example.edu",
	})
	require.NoError(t, err)

	require.NoError(t, s.AssignBeacon(ctx, admin(), f.ID, "aa:bb:cc:dd:ee:01"))

	got, err := db.FacultyByBeacon(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Empty(t, pres.reassigned)
}

func TestAssignBeaconMovesFromPreviousOwner(t *testing.T) {
	s, db, pres, _ := newTestService(t)
	ctx := context.Background()

	a, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Chen", Department: "Math", Email: "chen@example.edu",
		BeaconID: "aa:bb:cc:dd:ee:02",
	})
	require.NoError(t, err)
	b, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Diaz", Department: "Math", Email: "diaz@example.edu",
	})
	require.NoError(t, err)

	require.NoError(t, s.AssignBeacon(ctx, admin(), b.ID, "AA:BB:CC:DD:EE:02"))

	owner, err := db.FacultyByBeacon(ctx, "AA:BB:CC:DD:EE:02")
	require.NoError(t, err)
	assert.Equal(t, b.ID, owner.ID)

	prev, err := db.FacultyByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, prev.BeaconID, "previous owner loses the beacon")

	require.Len(t, pres.reassigned, 1)
	assert.Equal(t, [2]int64{a.ID, b.ID}, pres.reassigned[0])

	// The move shows up in the audit trail as a warning.
	records, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, r := range records {
		if r.Action == string(audit.EventBeaconReassigned) && r.Outcome == store.AuditWarning {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAssignBeaconIdempotent(t *testing.T) {
	s, _, pres, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Chen", Department: "Math", Email: "chen@example.edu",
		BeaconID: "aa:bb:cc:dd:ee:03",
	})
	require.NoError(t, err)

	require.NoError(t, s.AssignBeacon(ctx, admin(), f.ID, "aa:bb:cc:dd:ee:03"))
	assert.Empty(t, pres.reassigned)
}

func TestDeleteFacultyForgetsTracker(t *testing.T) {
	s, _, pres, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Chen", Department: "Math", Email: "chen@example.edu",
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFaculty(ctx, admin(), f.ID))
	assert.Contains(t, pres.forgotten, f.ID)
}

func TestSetAlwaysPresent(t *testing.T) {
	s, db, pres, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.CreateFaculty(ctx, admin(), FacultyParams{
		Name: "Dr. Chen", Department: "Math", Email: "chen@example.edu",
	})
	require.NoError(t, err)

	require.NoError(t, s.SetAlwaysPresent(ctx, admin(), f.ID, true))
	assert.True(t, pres.overridden[f.ID])

	got, err := db.FacultyByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.AlwaysPresent)
}

func TestDeactivateAdminLastActiveGuard(t *testing.T) {
	s, _, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := s.CreateAdmin(ctx, admin(), AdminParams{Username: "root", Password: "S3cure!Pass"})
	require.NoError(t, err)

	err = s.DeactivateAdmin(ctx, admin(), a.ID)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Conflict))
	assert.Equal(t, "admin.last_active", fault.CodeOf(err))

	b, err := s.CreateAdmin(ctx, admin(), AdminParams{Username: "second", Password: "S3cure!Pass"})
	require.NoError(t, err)

	// With a second active admin the first may go.
	require.NoError(t, s.DeactivateAdmin(ctx, admin(), a.ID))

	// And now the survivor is protected again.
	err = s.DeactivateAdmin(ctx, admin(), b.ID)
	assert.Equal(t, "admin.last_active", fault.CodeOf(err))
}

func TestDeactivateAdminRevokesSessions(t *testing.T) {
	s, _, _, authSvc := newTestService(t)
	ctx := context.Background()

	a, err := s.CreateAdmin(ctx, admin(), AdminParams{Username: "root", Password: "S3cure!Pass"})
	require.NoError(t, err)
	_, err = s.CreateAdmin(ctx, admin(), AdminParams{Username: "second", Password: "S3cure!Pass"})
	require.NoError(t, err)

	res, err := authSvc.AuthenticateAdmin(ctx, "root", "S3cure!Pass", "")
	require.NoError(t, err)

	require.NoError(t, s.DeactivateAdmin(ctx, admin(), a.ID))
	_, ok := authSvc.Sessions.Validate(res.SessionID)
	assert.False(t, ok)
}

func TestChangeAdminPassword(t *testing.T) {
	s, _, _, authSvc := newTestService(t)
	ctx := context.Background()

	a, err := s.CreateAdmin(ctx, admin(), AdminParams{Username: "root", Password: "S3cure!Pass"})
	require.NoError(t, err)

	// Wrong current password is refused.
	err = s.ChangeAdminPassword(ctx, admin(), a.ID, "wrong", "N3w!Secret9")
	assert.True(t, fault.IsKind(err, fault.Unauthorized))

	// Weak replacement is refused.
	err = s.ChangeAdminPassword(ctx, admin(), a.ID, "S3cure!Pass", "short")
	assert.True(t, fault.IsKind(err, fault.Validation))

	require.NoError(t, s.ChangeAdminPassword(ctx, admin(), a.ID, "S3cure!Pass", "N3w!Secret9"))

	_, err = authSvc.AuthenticateAdmin(ctx, "root", "N3w!Secret9", "")
	assert.NoError(t, err)
}

func TestEnsureFirstAdminOneShot(t *testing.T) {
	s, db, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := s.EnsureFirstAdmin(ctx, "root", "S3cure!Pass")
	require.NoError(t, err)
	assert.True(t, a.ForceChange, "bootstrap password must be rotated at first login")

	_, err = s.EnsureFirstAdmin(ctx, "root2", "S3cure!Pass")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Conflict))
	assert.Equal(t, "admin.exists", fault.CodeOf(err))

	// Even an inactive survivor blocks the bootstrap path.
	_, err = s.CreateAdmin(ctx, admin(), AdminParams{Username: "second", Password: "S3cure!Pass"})
	require.NoError(t, err)
	require.NoError(t, s.DeactivateAdmin(ctx, admin(), a.ID))

	_, err = s.EnsureFirstAdmin(ctx, "root3", "S3cure!Pass")
	assert.Equal(t, "admin.exists", fault.CodeOf(err))

	admins, err := db.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Len(t, admins, 2)
}
