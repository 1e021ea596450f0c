// SPDX-License-Identifier: MIT

package consult

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/store"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from   store.ConsultationStatus
		action Action
		to     store.ConsultationStatus
	}{
		{store.StatusPending, ActionAccept, store.StatusAccepted},
		{store.StatusPending, ActionCancel, store.StatusCancelled},
		{store.StatusAccepted, ActionComplete, store.StatusCompleted},
		{store.StatusAccepted, ActionBusy, store.StatusBusy},
		{store.StatusBusy, ActionCancel, store.StatusCancelled},
	}
	for _, tt := range allowed {
		got, err := next(tt.from, tt.action)
		require.NoError(t, err, "%s + %s", tt.from, tt.action)
		assert.Equal(t, tt.to, got)
	}

	// Everything outside the edge set is a conflict, including all
	// transitions out of terminal states.
	states := []store.ConsultationStatus{
		store.StatusPending, store.StatusAccepted, store.StatusBusy,
		store.StatusCompleted, store.StatusCancelled,
	}
	actions := []Action{ActionAccept, ActionBusy, ActionComplete, ActionCancel}
	allowedSet := map[string]bool{}
	for _, a := range allowed {
		allowedSet[string(a.from)+"/"+string(a.action)] = true
	}
	for _, s := range states {
		for _, a := range actions {
			if allowedSet[string(s)+"/"+string(a)] {
				continue
			}
			_, err := next(s, a)
			require.Error(t, err, "%s + %s must be rejected", s, a)
			assert.True(t, fault.IsKind(err, fault.Conflict))
		}
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"accept", "busy", "complete", "cancel"} {
		a, err := ParseAction(s)
		require.NoError(t, err)
		assert.Equal(t, Action(s), a)
	}
	_, err := ParseAction("reject")
	assert.True(t, fault.IsKind(err, fault.Validation))
}
