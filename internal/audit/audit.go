// SPDX-License-Identifier: MIT

// Package audit records security-sensitive operations following the
// WHO/WHAT/WHEN pattern. Every event is mirrored to the structured log
// and appended to the durable audit_log table.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/store"
)

// EventType classifies an audit event.
type EventType string

const (
	// Authentication events
	EventLoginSuccess   EventType = "admin.login"
	EventLoginFailure   EventType = "admin.login.failure"
	EventLockout        EventType = "admin.lockout"
	EventPasswordChange EventType = "admin.password_change"
	EventSessionRevoked EventType = "admin.session_revoked"

	// Admin CRUD events
	EventAdminCreated      EventType = "admin.created"
	EventAdminDeactivated  EventType = "admin.deactivated"
	EventStudentCreated    EventType = "student.created"
	EventStudentUpdated    EventType = "student.updated"
	EventStudentDeleted    EventType = "student.deleted"
	EventFacultyCreated    EventType = "faculty.created"
	EventFacultyUpdated    EventType = "faculty.updated"
	EventFacultyDeleted    EventType = "faculty.deleted"
	EventBeaconAssigned    EventType = "faculty.beacon_assigned"
	EventBeaconReassigned  EventType = "faculty.beacon_reassigned"
	EventAlwaysPresentSet  EventType = "faculty.always_present"
	EventFirstAdminCreated EventType = "setup.first_admin"

	// Consultation events
	EventConsultationCreated EventType = "consultation.created"
	EventConsultationMoved   EventType = "consultation.transition"
	EventDispatchExhausted   EventType = "consultation.dispatch_exhausted"

	// System events
	EventSystemStart  EventType = "system.start"
	EventSystemStop   EventType = "system.stop"
	EventConfigSaved  EventType = "config.saved"
	EventDeviceLost   EventType = "rfid.device_lost"
	EventAuditPruned  EventType = "audit.pruned"
	EventScanRejected EventType = "rfid.scan_rejected"
)

// Event is one audit entry before persistence.
type Event struct {
	Type       EventType
	ActorID    *int64 // WHO, when a known admin acted
	ActorName  string // WHO, free-form ("system", username, remote addr)
	Action     string // WHAT, human-readable
	Resource   string // affected entity ("student/42", "faculty/7")
	Outcome    store.AuditOutcome
	SourceAddr string
	Details    map[string]string
}

// Recorder mirrors audit events to the structured log and the database.
type Recorder struct {
	logger zerolog.Logger
	db     *store.Store
}

// NewRecorder builds a recorder on the given store.
func NewRecorder(db *store.Store) *Recorder {
	return &Recorder{
		logger: log.WithComponent("audit").With().Str("log_type", "audit").Logger(),
		db:     db,
	}
}

// Record writes one event. Persistence is best-effort: a failed insert is
// logged loudly but never fails the operation that produced the event.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.Outcome == "" {
		ev.Outcome = store.AuditSuccess
	}
	now := time.Now()

	logEvent := r.logger.Info()
	if ev.Outcome == store.AuditFailure {
		logEvent = r.logger.Warn()
	}
	logEvent = logEvent.
		Str("event", string(ev.Type)).
		Str("actor", ev.ActorName).
		Str("action", ev.Action).
		Str("resource", ev.Resource).
		Str("outcome", string(ev.Outcome))
	if ev.ActorID != nil {
		logEvent = logEvent.Int64(log.FieldAdminID, *ev.ActorID)
	}
	if ev.SourceAddr != "" {
		logEvent = logEvent.Str(log.FieldRemoteAddr, ev.SourceAddr)
	}
	for k, v := range ev.Details {
		logEvent = logEvent.Str(k, v)
	}
	logEvent.Msg("audit event")

	rec := &store.AuditRecord{
		ActorID:    ev.ActorID,
		ActorName:  ev.ActorName,
		Action:     string(ev.Type),
		Resource:   ev.Resource,
		Details:    flatten(ev.Action, ev.Details),
		SourceAddr: ev.SourceAddr,
		Outcome:    ev.Outcome,
		At:         now,
	}
	if err := r.db.AppendAudit(ctx, rec); err != nil {
		r.logger.Error().Err(err).
			Str("event", "audit.append_failed").
			Str("audit_event", string(ev.Type)).
			Msg("audit record not persisted")
	}
}

// LoginSuccess records a successful admin login.
func (r *Recorder) LoginSuccess(ctx context.Context, adminID int64, username, addr string) {
	r.Record(ctx, Event{
		Type:       EventLoginSuccess,
		ActorID:    &adminID,
		ActorName:  username,
		Action:     "logged in",
		Resource:   "admin/" + strconv.FormatInt(adminID, 10),
		SourceAddr: addr,
	})
}

// LoginFailure records a failed admin login attempt.
func (r *Recorder) LoginFailure(ctx context.Context, username, addr, reason string) {
	r.Record(ctx, Event{
		Type:       EventLoginFailure,
		ActorName:  username,
		Action:     "login failed",
		Outcome:    store.AuditFailure,
		SourceAddr: addr,
		Details:    map[string]string{"reason": reason},
	})
}

// Lockout records an account lockout trigger.
func (r *Recorder) Lockout(ctx context.Context, username, addr string, remaining time.Duration) {
	r.Record(ctx, Event{
		Type:       EventLockout,
		ActorName:  username,
		Action:     "account locked after repeated failures",
		Outcome:    store.AuditWarning,
		SourceAddr: addr,
		Details:    map[string]string{"remaining": remaining.Round(time.Second).String()},
	})
}

// DispatchExhausted records a consultation whose dispatch attempts hit the cap.
func (r *Recorder) DispatchExhausted(ctx context.Context, consultationID int64, attempts int) {
	r.Record(ctx, Event{
		Type:      EventDispatchExhausted,
		ActorName: "system",
		Action:    "dispatch attempts exhausted, consultation stays pending",
		Resource:  "consultation/" + strconv.FormatInt(consultationID, 10),
		Outcome:   store.AuditWarning,
		Details:   map[string]string{"attempts": strconv.Itoa(attempts)},
	})
}

// System records a lifecycle event attributed to the system itself.
func (r *Recorder) System(ctx context.Context, typ EventType, action string) {
	r.Record(ctx, Event{Type: typ, ActorName: "system", Action: action})
}

func flatten(action string, details map[string]string) string {
	out := action
	for k, v := range details {
		out += "; " + k + "=" + v
	}
	return out
}
