// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consultease/central/internal/fault"
)

const facultyCols = `id, name, department, email, beacon_id, image_ref, present,
	always_present, last_seen, sync_state, grace_active, created_at, updated_at`

type facultyRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	Department    string         `db:"department"`
	Email         string         `db:"email"`
	BeaconID      sql.NullString `db:"beacon_id"`
	ImageRef      string         `db:"image_ref"`
	Present       bool           `db:"present"`
	AlwaysPresent bool           `db:"always_present"`
	LastSeen      sql.NullString `db:"last_seen"`
	SyncState     string         `db:"sync_state"`
	GraceActive   bool           `db:"grace_active"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r facultyRow) toFaculty() *Faculty {
	return &Faculty{
		ID:            r.ID,
		Name:          r.Name,
		Department:    r.Department,
		Email:         r.Email,
		BeaconID:      r.BeaconID.String,
		ImageRef:      r.ImageRef,
		Present:       r.Present,
		AlwaysPresent: r.AlwaysPresent,
		LastSeen:      parseNullTime(r.LastSeen),
		SyncState:     SyncState(r.SyncState),
		GraceActive:   r.GraceActive,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
}

// InsertFaculty persists a new faculty record and fills in its id.
func InsertFaculty(ctx context.Context, ext sqlx.ExtContext, f *Faculty) error {
	now := time.Now()
	f.CreatedAt, f.UpdatedAt = now, now
	if f.SyncState == "" {
		f.SyncState = SyncPending
	}

	q := rebind(ext, `INSERT INTO faculty
		(name, department, email, beacon_id, image_ref, present, always_present,
		 last_seen, sync_state, grace_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	id, err := execInsert(ctx, ext, q,
		f.Name, f.Department, f.Email, nullString(f.BeaconID), f.ImageRef,
		f.Present, f.AlwaysPresent, formatNullTime(f.LastSeen),
		string(f.SyncState), f.GraceActive, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fault.New(fault.Conflict, "faculty.duplicate", "email or beacon already assigned")
		}
		return err
	}
	f.ID = id
	return nil
}

// FacultyByID loads one faculty record.
func FacultyByID(ctx context.Context, ext sqlx.ExtContext, id int64) (*Faculty, error) {
	var row facultyRow
	q := rebind(ext, `SELECT `+facultyCols+` FROM faculty WHERE id = ?`)
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "faculty.not_found", "faculty %d not found", id)
		}
		return nil, err
	}
	return row.toFaculty(), nil
}

// FacultyByBeacon resolves a beacon identifier to its assigned faculty.
func FacultyByBeacon(ctx context.Context, ext sqlx.ExtContext, beaconID string) (*Faculty, error) {
	var row facultyRow
	q := rebind(ext, `SELECT `+facultyCols+` FROM faculty WHERE beacon_id = ?`)
	if err := sqlx.GetContext(ctx, ext, &row, q, beaconID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "faculty.unknown_beacon", "no faculty with beacon %q", beaconID)
		}
		return nil, err
	}
	return row.toFaculty(), nil
}

// SaveFacultyPresence persists the durable slice of the presence state:
// present, grace_active, last_seen and sync_state, in one statement so a
// single transaction covers one tracker event.
func SaveFacultyPresence(ctx context.Context, ext sqlx.ExtContext, f *Faculty) error {
	f.UpdatedAt = time.Now()
	q := rebind(ext, `UPDATE faculty SET present = ?, grace_active = ?, last_seen = ?,
		sync_state = ?, updated_at = ? WHERE id = ?`)
	res, err := ext.ExecContext(ctx, q,
		f.Present, f.GraceActive, formatNullTime(f.LastSeen),
		string(f.SyncState), formatTime(f.UpdatedAt), f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "faculty.not_found", "faculty %d not found", f.ID)
	}
	return nil
}

// SetBeacon assigns (or clears, with an empty id) a faculty's beacon.
func SetBeacon(ctx context.Context, ext sqlx.ExtContext, facultyID int64, beaconID string) error {
	q := rebind(ext, `UPDATE faculty SET beacon_id = ?, updated_at = ? WHERE id = ?`)
	res, err := ext.ExecContext(ctx, q, nullString(beaconID), formatTime(time.Now()), facultyID)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.Conflict, "faculty.beacon_taken", "beacon %q already assigned", beaconID)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "faculty.not_found", "faculty %d not found", facultyID)
	}
	return nil
}

// CreateFaculty persists a new faculty record.
func (s *Store) CreateFaculty(ctx context.Context, f *Faculty) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := InsertFaculty(ctx, s.handle(), f)
	s.observe(err)
	return err
}

// FacultyByID loads one faculty record.
func (s *Store) FacultyByID(ctx context.Context, id int64) (*Faculty, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	f, err := FacultyByID(ctx, s.handle(), id)
	s.observe(err)
	return f, err
}

// FacultyByBeacon resolves a beacon identifier to its assigned faculty.
func (s *Store) FacultyByBeacon(ctx context.Context, beaconID string) (*Faculty, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	f, err := FacultyByBeacon(ctx, s.handle(), beaconID)
	s.observe(err)
	return f, err
}

// UpdateFaculty rewrites the admin-editable fields of a faculty record.
// Presence fields are owned by the tracker and not touched here.
func (s *Store) UpdateFaculty(ctx context.Context, f *Faculty) error {
	if err := s.guard(); err != nil {
		return err
	}
	f.UpdatedAt = time.Now()
	q := rebind(s.handle(), `UPDATE faculty SET name = ?, department = ?, email = ?,
		image_ref = ?, updated_at = ? WHERE id = ?`)
	res, err := s.handle().ExecContext(ctx, q,
		f.Name, f.Department, f.Email, f.ImageRef, formatTime(f.UpdatedAt), f.ID)
	s.observe(err)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.Conflict, "faculty.email_taken", "email %q already registered", f.Email)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "faculty.not_found", "faculty %d not found", f.ID)
	}
	return nil
}

// SetAlwaysPresent toggles the observed-availability override.
func (s *Store) SetAlwaysPresent(ctx context.Context, id int64, v bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	q := rebind(s.handle(), `UPDATE faculty SET always_present = ?, updated_at = ? WHERE id = ?`)
	res, err := s.handle().ExecContext(ctx, q, v, formatTime(time.Now()), id)
	s.observe(err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "faculty.not_found", "faculty %d not found", id)
	}
	return nil
}

// DeleteFaculty removes a faculty record.
func (s *Store) DeleteFaculty(ctx context.Context, id int64) error {
	if err := s.guard(); err != nil {
		return err
	}
	q := rebind(s.handle(), `DELETE FROM faculty WHERE id = ?`)
	res, err := s.handle().ExecContext(ctx, q, id)
	s.observe(err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "faculty.not_found", "faculty %d not found", id)
	}
	return nil
}

// ListFaculty returns all faculty ordered by name.
func (s *Store) ListFaculty(ctx context.Context) ([]Faculty, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows []facultyRow
	q := `SELECT ` + facultyCols + ` FROM faculty ORDER BY name, id`
	err := s.handle().SelectContext(ctx, &rows, q)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	out := make([]Faculty, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toFaculty())
	}
	return out, nil
}
