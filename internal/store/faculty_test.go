// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/fault"
)

func TestFacultyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &Faculty{Name: "Dr. Reyes", Department: "CS", Email: "reyes@college.edu"}
	require.NoError(t, s.CreateFaculty(ctx, f))
	require.NotZero(t, f.ID)
	assert.Equal(t, SyncPending, f.SyncState)

	got, err := s.FacultyByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Reyes", got.Name)
	assert.False(t, got.Present)
	assert.Empty(t, got.BeaconID)
	assert.Nil(t, got.LastSeen)

	f.Department = "Software Engineering"
	require.NoError(t, s.UpdateFaculty(ctx, f))

	all, err := s.ListFaculty(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Software Engineering", all[0].Department)

	require.NoError(t, s.DeleteFaculty(ctx, f.ID))
	_, err = s.FacultyByID(ctx, f.ID)
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestFacultyEmailUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateFaculty(ctx, &Faculty{Name: "A", Email: "same@college.edu"}))
	err := s.CreateFaculty(ctx, &Faculty{Name: "B", Email: "same@college.edu"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Conflict))
}

func TestFacultyBeaconAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Faculty{Name: "A", Email: "a@college.edu"}
	b := &Faculty{Name: "B", Email: "b@college.edu"}
	require.NoError(t, s.CreateFaculty(ctx, a))
	require.NoError(t, s.CreateFaculty(ctx, b))

	// two unassigned faculty coexist; NULL beacons do not collide
	const beacon = "AA:BB:CC:DD:EE:FF"
	require.NoError(t, SetBeacon(ctx, s.handle(), a.ID, beacon))

	got, err := s.FacultyByBeacon(ctx, beacon)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	err = SetBeacon(ctx, s.handle(), b.ID, beacon)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Conflict))

	// clearing frees the beacon for reassignment
	require.NoError(t, SetBeacon(ctx, s.handle(), a.ID, ""))
	require.NoError(t, SetBeacon(ctx, s.handle(), b.ID, beacon))

	_, err = s.FacultyByBeacon(ctx, "11:22:33:44:55:66")
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestSaveFacultyPresencePersistsDurableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &Faculty{Name: "Dr. Chen", Email: "chen@college.edu"}
	require.NoError(t, s.CreateFaculty(ctx, f))

	seen := time.Now().Truncate(time.Millisecond)
	f.Present = true
	f.GraceActive = false
	f.LastSeen = &seen
	f.SyncState = SyncSynced
	require.NoError(t, SaveFacultyPresence(ctx, s.handle(), f))

	got, err := s.FacultyByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.Present)
	assert.False(t, got.GraceActive)
	require.NotNil(t, got.LastSeen)
	assert.WithinDuration(t, seen, *got.LastSeen, time.Millisecond)
	assert.Equal(t, SyncSynced, got.SyncState)
}

func TestSetAlwaysPresent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &Faculty{Name: "Dr. Okafor", Email: "okafor@college.edu"}
	require.NoError(t, s.CreateFaculty(ctx, f))

	require.NoError(t, s.SetAlwaysPresent(ctx, f.ID, true))
	got, err := s.FacultyByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.AlwaysPresent)

	err = s.SetAlwaysPresent(ctx, 9999, true)
	assert.True(t, fault.IsKind(err, fault.NotFound))
}
