// SPDX-License-Identifier: MIT

package store

import (
	"database/sql"
	"time"
)

// Student is a durable student record. The rfid_uid is the sole
// authentication credential for students and is matched case-insensitively
// as a fallback.
type Student struct {
	ID         int64
	Name       string
	Department string
	RFIDUID    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SyncState describes how current a desk unit's local view is.
type SyncState string

const (
	SyncPending  SyncState = "pending"
	SyncSynced   SyncState = "synced"
	SyncDegraded SyncState = "degraded"
)

// Faculty is a durable faculty record plus the persisted slice of the
// presence tracker's state. The tracker rebuilds its in-memory view from
// these fields on startup.
type Faculty struct {
	ID            int64
	Name          string
	Department    string
	Email         string
	BeaconID      string // normalized MAC or UUID; empty means unassigned
	ImageRef      string
	Present       bool
	AlwaysPresent bool
	LastSeen      *time.Time
	SyncState     SyncState
	GraceActive   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConsultationStatus enumerates the consultation state machine states.
type ConsultationStatus string

const (
	StatusPending   ConsultationStatus = "pending"
	StatusAccepted  ConsultationStatus = "accepted"
	StatusBusy      ConsultationStatus = "busy"
	StatusCompleted ConsultationStatus = "completed"
	StatusCancelled ConsultationStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ConsultationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Consultation is a durable consultation request. Status only ever moves
// along the allowed edges; rows are never deleted, they terminate.
type Consultation struct {
	ID          int64
	StudentID   int64
	FacultyID   int64
	RequestText string
	CourseCode  string
	Status      ConsultationStatus
	RequestedAt time.Time
	RespondedAt *time.Time
	CompletedAt *time.Time
}

// Admin is a durable administrator account. Admins are deactivated, not
// deleted; at least one active admin must always remain.
type Admin struct {
	ID           int64
	Username     string
	PasswordHash string
	Salt         string
	Active       bool
	ForceChange  bool
	LastChange   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditOutcome classifies an audit record.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
	AuditWarning AuditOutcome = "warning"
)

// AuditRecord is one append-only audit entry.
type AuditRecord struct {
	ID         int64
	ActorID    *int64
	ActorName  string
	Action     string
	Resource   string
	Details    string
	SourceAddr string
	Outcome    AuditOutcome
	At         time.Time
}

// Timestamps are stored as RFC 3339 text in UTC on both drivers, which
// keeps scans portable between modernc sqlite and pgx.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
