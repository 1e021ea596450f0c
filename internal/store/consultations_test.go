// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPair(t *testing.T, s *Store) (studentID, facultyID int64) {
	t.Helper()
	ctx := context.Background()
	st := &Student{Name: "Student", RFIDUID: "UID-" + t.Name()}
	require.NoError(t, s.CreateStudent(ctx, st))
	f := &Faculty{Name: "Faculty", Email: t.Name() + "@college.edu"}
	require.NoError(t, s.CreateFaculty(ctx, f))
	return st.ID, f.ID
}

func TestConsultationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	studentID, facultyID := seedPair(t, s)

	c := &Consultation{
		StudentID:   studentID,
		FacultyID:   facultyID,
		RequestText: "Question about the final project",
		CourseCode:  "CS401",
	}
	require.NoError(t, InsertConsultation(ctx, s.handle(), c))
	require.NotZero(t, c.ID)
	assert.Equal(t, StatusPending, c.Status)
	assert.False(t, c.RequestedAt.IsZero())

	// pending -> accepted stamps responded_at
	now := time.Now()
	ok, err := TransitionConsultation(ctx, s.handle(), c.ID, StatusPending, StatusAccepted, now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	require.NotNil(t, got.RespondedAt)
	assert.Nil(t, got.CompletedAt)

	// a stale prior state is refused, not applied
	ok, err = TransitionConsultation(ctx, s.handle(), c.ID, StatusPending, StatusCancelled, now)
	require.NoError(t, err)
	assert.False(t, ok)

	// accepted -> completed stamps completed_at
	ok, err = TransitionConsultation(ctx, s.handle(), c.ID, StatusAccepted, StatusCompleted, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.Status.Terminal())
}

func TestRespondedAtSetOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	studentID, facultyID := seedPair(t, s)

	c := &Consultation{StudentID: studentID, FacultyID: facultyID, RequestText: "x"}
	require.NoError(t, InsertConsultation(ctx, s.handle(), c))

	first := time.Now().Add(-time.Hour)
	ok, err := TransitionConsultation(ctx, s.handle(), c.ID, StatusPending, StatusAccepted, first)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RespondedAt)
	stamped := *got.RespondedAt

	// later transitions never move the first-response stamp
	ok, err = TransitionConsultation(ctx, s.handle(), c.ID, StatusAccepted, StatusBusy, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.ConsultationByID(ctx, c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, stamped, *got.RespondedAt, time.Millisecond)
}

func TestHasOpenConsultation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	studentID, facultyID := seedPair(t, s)

	open, err := HasOpenConsultation(ctx, s.handle(), studentID, facultyID)
	require.NoError(t, err)
	assert.False(t, open)

	c := &Consultation{StudentID: studentID, FacultyID: facultyID, RequestText: "x"}
	require.NoError(t, InsertConsultation(ctx, s.handle(), c))

	open, err = HasOpenConsultation(ctx, s.handle(), studentID, facultyID)
	require.NoError(t, err)
	assert.True(t, open)

	// terminal rows do not block a new request
	ok, err := TransitionConsultation(ctx, s.handle(), c.ID, StatusPending, StatusCancelled, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	open, err = HasOpenConsultation(ctx, s.handle(), studentID, facultyID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestOpenConsultationsOrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	studentID, facultyID := seedPair(t, s)

	var ids []int64
	for i := 0; i < 3; i++ {
		c := &Consultation{StudentID: studentID, FacultyID: facultyID, RequestText: "x"}
		require.NoError(t, InsertConsultation(ctx, s.handle(), c))
		ids = append(ids, c.ID)
		time.Sleep(2 * time.Millisecond)
	}

	// completing one removes it from the open set
	ok, err := TransitionConsultation(ctx, s.handle(), ids[1], StatusPending, StatusCancelled, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	open, err := s.OpenConsultations(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, ids[0], open[0].ID)
	assert.Equal(t, ids[2], open[1].ID)
}
