// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
)

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS students (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	department TEXT NOT NULL DEFAULT '',
	rfid_uid TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS faculty (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	department TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	beacon_id TEXT,
	image_ref TEXT NOT NULL DEFAULT '',
	present INTEGER NOT NULL DEFAULT 0,
	always_present INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT,
	sync_state TEXT NOT NULL DEFAULT 'pending' CHECK(sync_state IN ('pending', 'synced', 'degraded')),
	grace_active INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consultations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id INTEGER NOT NULL REFERENCES students(id),
	faculty_id INTEGER NOT NULL REFERENCES faculty(id),
	request_text TEXT NOT NULL,
	course_code TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'accepted', 'busy', 'completed', 'cancelled')),
	requested_at TEXT NOT NULL,
	responded_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS admins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	salt TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	force_change INTEGER NOT NULL DEFAULT 0,
	last_change TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id INTEGER,
	actor_name TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	source_addr TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT 'success' CHECK(outcome IN ('success', 'failure', 'warning')),
	at TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS students (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	department TEXT NOT NULL DEFAULT '',
	rfid_uid TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS faculty (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	department TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	beacon_id TEXT,
	image_ref TEXT NOT NULL DEFAULT '',
	present BOOLEAN NOT NULL DEFAULT FALSE,
	always_present BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen TEXT,
	sync_state TEXT NOT NULL DEFAULT 'pending' CHECK(sync_state IN ('pending', 'synced', 'degraded')),
	grace_active BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consultations (
	id BIGSERIAL PRIMARY KEY,
	student_id BIGINT NOT NULL REFERENCES students(id),
	faculty_id BIGINT NOT NULL REFERENCES faculty(id),
	request_text TEXT NOT NULL,
	course_code TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'accepted', 'busy', 'completed', 'cancelled')),
	requested_at TEXT NOT NULL,
	responded_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS admins (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	salt TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	force_change BOOLEAN NOT NULL DEFAULT FALSE,
	last_change TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id BIGSERIAL PRIMARY KEY,
	actor_id BIGINT,
	actor_name TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	source_addr TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT 'success' CHECK(outcome IN ('success', 'failure', 'warning')),
	at TEXT NOT NULL
);
`

// indexes is the declared index set. The partial unique index on beacon_id
// lets multiple faculty remain unassigned.
var indexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_students_rfid_uid ON students(rfid_uid)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_faculty_email ON faculty(email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_faculty_beacon_id ON faculty(beacon_id) WHERE beacon_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_username ON admins(username)`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_faculty_status ON consultations(faculty_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_student_status ON consultations(student_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_status_requested ON consultations(status, requested_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at)`,
}

// migrate creates tables and asserts the index set. Table creation is
// fatal on failure; a failed index is logged and skipped.
func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == "pgx" {
		schema = schemaPostgres
	}
	if _, err := s.handle().ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for _, ddl := range indexes {
		if _, err := s.handle().ExecContext(ctx, ddl); err != nil {
			s.logger.Warn().Err(err).Str("ddl", ddl).
				Str("event", "store.index_skipped").
				Msg("index creation failed, continuing without it")
		}
	}
	return nil
}
