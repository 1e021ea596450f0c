// SPDX-License-Identifier: MIT

package presence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/metrics"
	"github.com/consultease/central/internal/store"
)

func (t *Tracker) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evBeaconSighting:
		t.mu.RLock()
		id, ok := t.byBeacon[ev.beaconID]
		t.mu.RUnlock()
		if !ok {
			metrics.BeaconEventsTotal.WithLabelValues("unknown").Inc()
			t.logger.Debug().Str(log.FieldBeaconID, ev.beaconID).
				Str("event", "presence.unknown_beacon").Msg("sighting for unassigned beacon")
			return
		}
		metrics.BeaconEventsTotal.WithLabelValues("matched").Inc()
		if ev.present {
			t.markPresent(ctx, id, ev.at)
		} else {
			t.markDeparted(ctx, id, ev.at)
		}

	case evDeskStatus:
		if ev.present {
			t.markPresent(ctx, ev.facultyID, ev.at)
		} else {
			t.markDeparted(ctx, ev.facultyID, ev.at)
		}

	case evSyncReport:
		t.applySyncReport(ctx, ev.facultyID, ev.syncState, ev.at)

	case evAlwaysPresent:
		t.applyAlwaysPresent(ctx, ev.facultyID, ev.value, ev.at)

	case evReassign:
		metrics.BeaconEventsTotal.WithLabelValues("reassigned").Inc()
		t.mu.Lock()
		for beacon, id := range t.byBeacon {
			if id == ev.oldID {
				delete(t.byBeacon, beacon)
			}
		}
		t.byBeacon[ev.beaconID] = ev.facultyID
		t.mu.Unlock()
		if ev.oldID != 0 && ev.oldID != ev.facultyID {
			t.markDeparted(ctx, ev.oldID, ev.at)
		}
		t.markPresent(ctx, ev.facultyID, ev.at)

	case evGraceExpired:
		t.applyGraceExpiry(ctx, ev.facultyID, ev.gen, ev.at)

	case evDeskStaleSweep:
		t.sweepStaleDesks(ctx, ev.at)
	}
}

// markPresent applies a beacon_present transition: present, last_seen
// refreshed, any armed grace window cancelled.
func (t *Tracker) markPresent(ctx context.Context, facultyID int64, at time.Time) {
	t.mu.Lock()
	st, ok := t.state[facultyID]
	if !ok {
		t.mu.Unlock()
		return
	}
	changed := !st.present || st.graceActive
	seenChanged := st.lastSeen == nil || at.After(*st.lastSeen)

	st.present = true
	st.lastSeen = &at
	if st.graceTimer != nil {
		st.graceTimer.Stop()
		st.graceTimer = nil
	}
	st.graceActive = false
	st.graceGen++ // invalidate in-flight timer fires
	t.mu.Unlock()

	if !changed && !seenChanged {
		return
	}
	t.persist(ctx, facultyID)
	if changed {
		metrics.PresenceTransitionsTotal.WithLabelValues("present").Inc()
		t.updateGauges()
		t.logger.Info().Int64(log.FieldFacultyID, facultyID).
			Str(log.FieldNewState, "present").
			Str("event", "presence.arrived").Msg("faculty present")
		t.emit(StateChange{FacultyID: facultyID, Present: true, GraceActive: false, At: at})
	}
}

// markDeparted arms the grace window instead of flipping to absent
// immediately; transient beacon dropouts are absorbed by the timer.
func (t *Tracker) markDeparted(ctx context.Context, facultyID int64, at time.Time) {
	t.mu.Lock()
	st, ok := t.state[facultyID]
	if !ok || !st.present || st.graceActive {
		t.mu.Unlock()
		return
	}
	st.graceActive = true
	t.armGraceLocked(facultyID, st)
	t.mu.Unlock()

	t.persist(ctx, facultyID)
	t.updateGauges()
	t.logger.Info().Int64(log.FieldFacultyID, facultyID).
		Dur("grace", t.cfg.GraceInterval).
		Str("event", "presence.grace_armed").Msg("beacon lost, grace window armed")
	t.emit(StateChange{FacultyID: facultyID, Present: true, GraceActive: true, At: at})
}

// armGraceLocked starts the departure timer. The generation counter
// guards against a fire that raced with a cancelling re-present.
func (t *Tracker) armGraceLocked(facultyID int64, st *facState) {
	st.graceGen++
	gen := st.graceGen
	if st.graceTimer != nil {
		st.graceTimer.Stop()
	}
	st.graceTimer = time.AfterFunc(t.cfg.GraceInterval, func() {
		t.enqueue(event{kind: evGraceExpired, facultyID: facultyID, gen: gen, at: time.Now()})
	})
}

func (t *Tracker) applyGraceExpiry(ctx context.Context, facultyID int64, gen uint64, at time.Time) {
	t.mu.Lock()
	st, ok := t.state[facultyID]
	if !ok || !st.graceActive || st.graceGen != gen {
		// A beacon_present cancelled this window before the fire landed.
		t.mu.Unlock()
		return
	}
	st.present = false
	st.graceActive = false
	st.graceTimer = nil
	t.mu.Unlock()

	t.persist(ctx, facultyID)
	metrics.PresenceTransitionsTotal.WithLabelValues("away").Inc()
	t.updateGauges()
	t.logger.Info().Int64(log.FieldFacultyID, facultyID).
		Str(log.FieldNewState, "away").
		Str("event", "presence.departed").Msg("grace expired, faculty absent")
	t.emit(StateChange{FacultyID: facultyID, Present: false, GraceActive: false, At: at})
}

func (t *Tracker) applySyncReport(ctx context.Context, facultyID int64, state store.SyncState, at time.Time) {
	t.mu.Lock()
	st, ok := t.state[facultyID]
	if !ok {
		t.mu.Unlock()
		return
	}
	changed := st.syncState != state
	st.syncState = state
	st.lastDeskPing = at
	t.mu.Unlock()

	if changed {
		t.persist(ctx, facultyID)
	}
}

func (t *Tracker) applyAlwaysPresent(ctx context.Context, facultyID int64, v bool, at time.Time) {
	t.mu.Lock()
	st, ok := t.state[facultyID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if st.alwaysPresent == v {
		t.mu.Unlock()
		return
	}
	before := st.alwaysPresent || st.present
	st.alwaysPresent = v
	after := st.alwaysPresent || st.present
	t.mu.Unlock()

	if err := t.db.SetAlwaysPresent(ctx, facultyID, v); err != nil {
		t.logger.Error().Err(err).Int64(log.FieldFacultyID, facultyID).
			Str("event", "presence.persist_failed").Msg("always_present not persisted")
	}
	if before != after {
		t.updateGauges()
		t.emit(StateChange{FacultyID: facultyID, Present: after, GraceActive: false, At: at})
	}
}

// sweepStaleDesks degrades the sync state of desks whose heartbeat went
// quiet.
func (t *Tracker) sweepStaleDesks(ctx context.Context, now time.Time) {
	if t.cfg.DeskStale <= 0 {
		return
	}
	var stale []int64
	t.mu.Lock()
	staleCount := 0
	for id, st := range t.state {
		if st.lastDeskPing.IsZero() {
			continue
		}
		if now.Sub(st.lastDeskPing) > t.cfg.DeskStale {
			staleCount++
			if st.syncState != store.SyncDegraded {
				st.syncState = store.SyncDegraded
				stale = append(stale, id)
			}
		}
	}
	t.mu.Unlock()

	metrics.DeskSyncStale.Set(float64(staleCount))
	for _, id := range stale {
		t.persist(ctx, id)
		t.logger.Warn().Int64(log.FieldFacultyID, id).
			Str("event", "presence.desk_stale").Msg("desk unit heartbeat stale, sync degraded")
	}
}

// persist writes the durable slice of one faculty's state in a single
// transaction.
func (t *Tracker) persist(ctx context.Context, facultyID int64) {
	t.mu.RLock()
	st, ok := t.state[facultyID]
	if !ok {
		t.mu.RUnlock()
		return
	}
	f := store.Faculty{
		ID:          facultyID,
		Present:     st.present,
		GraceActive: st.graceActive,
		LastSeen:    st.lastSeen,
		SyncState:   st.syncState,
	}
	t.mu.RUnlock()

	if f.SyncState == "" {
		f.SyncState = store.SyncPending
	}
	err := t.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.SaveFacultyPresence(ctx, tx, &f)
	})
	if err != nil {
		t.logger.Error().Err(err).Int64(log.FieldFacultyID, facultyID).
			Str("event", "presence.persist_failed").Msg("presence state not persisted")
	}
}

func (t *Tracker) updateGauges() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	present, grace := 0, 0
	for _, st := range t.state {
		if st.alwaysPresent || st.present {
			present++
		}
		if st.graceActive {
			grace++
		}
	}
	metrics.FacultyPresent.Set(float64(present))
	metrics.GraceTimersActive.Set(float64(grace))
}
