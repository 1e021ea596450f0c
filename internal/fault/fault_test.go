// SPDX-License-Identifier: MIT

package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := New(Conflict, "consultation_state", "transition not allowed")

	assert.True(t, IsKind(err, Conflict))
	assert.False(t, IsKind(err, Validation))
	assert.Equal(t, "consultation_state", CodeOf(err))
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	inner := Wrap(Transient, "db_busy", "database is busy", errors.New("SQLITE_BUSY"))
	outer := fmt.Errorf("store: %w", inner)

	assert.True(t, IsTransient(outer))
	assert.Equal(t, Transient, KindOf(outer))
	assert.Equal(t, "db_busy", CodeOf(outer))

	// errors.Is against a kind-only probe matches any code of that kind.
	assert.True(t, errors.Is(outer, &Fault{Kind: Transient}))
	// A code-bearing probe must match the code too.
	assert.True(t, errors.Is(outer, &Fault{Kind: Transient, Code: "db_busy"}))
	assert.False(t, errors.Is(outer, &Fault{Kind: Transient, Code: "other"}))
}

func TestLockedCarriesRetryAfter(t *testing.T) {
	err := LockedFor("admin_lockout", "too many failed attempts", 840*time.Second)

	remaining, ok := RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 840*time.Second, remaining)

	_, ok = RetryAfterOf(New(Conflict, "x", "y"))
	assert.False(t, ok)
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(BusUnavailable, "broker_down", "broker unreachable", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "broker_down")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
