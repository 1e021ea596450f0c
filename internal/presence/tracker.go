// SPDX-License-Identifier: MIT

// Package presence maintains the live faculty availability view. One
// goroutine consumes desk-unit status events, admin edits and grace
// timer fires in arrival order, persists every observable transition in
// a single transaction, and fans state changes out to subscribers.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/store"
)

const (
	eventBuffer    = 128
	subscriberBuf  = 32
	deskStaleSweep = time.Minute
)

// StateChange is emitted on every observable presence transition.
type StateChange struct {
	FacultyID   int64
	Present     bool
	GraceActive bool
	At          time.Time
}

// View is a read-only snapshot of one faculty's live state.
type View struct {
	FacultyID     int64
	Name          string
	Present       bool
	AlwaysPresent bool
	GraceActive   bool
	LastSeen      *time.Time
	SyncState     store.SyncState
	Observed      bool
}

type eventKind int

const (
	evBeaconSighting eventKind = iota
	evDeskStatus
	evSyncReport
	evAlwaysPresent
	evReassign
	evGraceExpired
	evDeskStaleSweep
)

type event struct {
	kind      eventKind
	beaconID  string
	facultyID int64
	oldID     int64 // reassignment source
	present   bool
	value     bool
	syncState store.SyncState
	at        time.Time
	gen       uint64
}

// facState is the tracker-owned live state for one faculty.
type facState struct {
	present       bool
	alwaysPresent bool
	graceActive   bool
	graceGen      uint64
	graceTimer    *time.Timer
	lastSeen      *time.Time
	syncState     store.SyncState
	lastDeskPing  time.Time
	name          string
}

// Tracker consumes presence inputs and owns the availability view.
type Tracker struct {
	db     *store.Store
	cfg    config.PresenceSettings
	logger zerolog.Logger

	events chan event

	mu       sync.RWMutex
	state    map[int64]*facState
	byBeacon map[string]int64

	subMu   sync.Mutex
	subs    []chan StateChange
	subDrop uint64
}

// New builds a tracker. Call Load before Run to rebuild the view from
// durable state.
func New(db *store.Store, cfg config.PresenceSettings) *Tracker {
	return &Tracker{
		db:       db,
		cfg:      cfg,
		logger:   log.WithComponent("presence"),
		events:   make(chan event, eventBuffer),
		state:    make(map[int64]*facState),
		byBeacon: make(map[string]int64),
	}
}

// Load rebuilds the in-memory view from the durable faculty rows. Grace
// windows do not survive a restart: a faculty persisted mid-grace comes
// back present with a fresh grace timer armed on Run.
func (t *Tracker) Load(ctx context.Context) error {
	rows, err := t.db.ListFaculty(ctx)
	if err != nil {
		return fault.Wrap(fault.Fatal, "presence.load", "presence state not rebuildable", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range rows {
		f := rows[i]
		st := &facState{
			present:       f.Present,
			alwaysPresent: f.AlwaysPresent,
			graceActive:   f.GraceActive,
			lastSeen:      f.LastSeen,
			syncState:     f.SyncState,
			name:          f.Name,
		}
		t.state[f.ID] = st
		if f.BeaconID != "" {
			t.byBeacon[f.BeaconID] = f.ID
		}
	}
	t.logger.Info().Int("faculty", len(rows)).Str("event", "presence.loaded").Msg("presence view rebuilt")
	return nil
}

// Run processes events until ctx is cancelled. Events for a single
// faculty are serialized by this loop.
func (t *Tracker) Run(ctx context.Context) error {
	// Re-arm grace for anyone persisted mid-grace before the restart.
	t.mu.Lock()
	for id, st := range t.state {
		if st.graceActive {
			t.armGraceLocked(id, st)
		}
	}
	t.mu.Unlock()

	stale := time.NewTicker(deskStaleSweep)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			t.cancelAllTimers()
			return nil
		case <-stale.C:
			t.handle(ctx, event{kind: evDeskStaleSweep, at: time.Now()})
		case ev := <-t.events:
			t.handle(ctx, ev)
		}
	}
}

// Subscribe returns a channel of state changes. Delivery is best-effort:
// a subscriber that falls behind loses events rather than stalling the
// tracker.
func (t *Tracker) Subscribe() <-chan StateChange {
	ch := make(chan StateChange, subscriberBuf)
	t.subMu.Lock()
	t.subs = append(t.subs, ch)
	t.subMu.Unlock()
	return ch
}

func (t *Tracker) emit(change StateChange) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- change:
		default:
			t.subDrop++
			t.logger.Warn().Int64(log.FieldFacultyID, change.FacultyID).
				Str("event", "presence.subscriber_lagging").Msg("state change dropped for slow subscriber")
		}
	}
}

// enqueue never blocks the caller; the tracker sheds load under a full
// event buffer rather than stalling the bus worker.
func (t *Tracker) enqueue(ev event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Error().Str("event", "presence.event_dropped").Msg("presence event buffer full")
	}
}

// BeaconSighting reports a beacon observation from a desk unit's
// mac_status scan. present=false is a departure report.
func (t *Tracker) BeaconSighting(beaconID string, present bool, at time.Time) {
	t.enqueue(event{kind: evBeaconSighting, beaconID: beaconID, present: present, at: at})
}

// DeskStatus reports a faculty-scoped status message.
func (t *Tracker) DeskStatus(facultyID int64, present bool, at time.Time) {
	t.enqueue(event{kind: evDeskStatus, facultyID: facultyID, present: present, at: at})
}

// SyncReport updates a desk unit's sync state and refreshes its
// heartbeat.
func (t *Tracker) SyncReport(facultyID int64, state store.SyncState, at time.Time) {
	t.enqueue(event{kind: evSyncReport, facultyID: facultyID, syncState: state, at: at})
}

// SetAlwaysPresent applies an admin availability override.
func (t *Tracker) SetAlwaysPresent(facultyID int64, v bool) {
	t.enqueue(event{kind: evAlwaysPresent, facultyID: facultyID, value: v, at: time.Now()})
}

// NotifyReassigned drives the beacon reassignment path: the old holder
// receives a synthesized departure (with grace), the new holder a
// sighting.
func (t *Tracker) NotifyReassigned(oldFacultyID, newFacultyID int64, beaconID string, at time.Time) {
	t.enqueue(event{kind: evReassign, oldID: oldFacultyID, facultyID: newFacultyID, beaconID: beaconID, at: at})
}

// TrackFaculty registers a newly created faculty (admin CRUD path).
func (t *Tracker) TrackFaculty(f *store.Faculty) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[f.ID] = &facState{
		present:       f.Present,
		alwaysPresent: f.AlwaysPresent,
		syncState:     f.SyncState,
		lastSeen:      f.LastSeen,
		name:          f.Name,
	}
	if f.BeaconID != "" {
		t.byBeacon[f.BeaconID] = f.ID
	}
}

// ForgetFaculty removes a deleted faculty from the live view.
func (t *Tracker) ForgetFaculty(facultyID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.state[facultyID]
	if !ok {
		return
	}
	if st.graceTimer != nil {
		st.graceTimer.Stop()
	}
	delete(t.state, facultyID)
	for beacon, id := range t.byBeacon {
		if id == facultyID {
			delete(t.byBeacon, beacon)
		}
	}
}

// Observed reports the availability the kiosk displays.
func (t *Tracker) Observed(facultyID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.state[facultyID]
	if !ok {
		return false
	}
	return st.alwaysPresent || st.present
}

// Snapshot returns the live view for every tracked faculty.
func (t *Tracker) Snapshot() []View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]View, 0, len(t.state))
	for id, st := range t.state {
		out = append(out, View{
			FacultyID:     id,
			Name:          st.name,
			Present:       st.present,
			AlwaysPresent: st.alwaysPresent,
			GraceActive:   st.graceActive,
			LastSeen:      st.lastSeen,
			SyncState:     st.syncState,
			Observed:      st.alwaysPresent || st.present,
		})
	}
	return out
}

func (t *Tracker) cancelAllTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.state {
		if st.graceTimer != nil {
			st.graceTimer.Stop()
			st.graceTimer = nil
		}
	}
}
