// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consultease/central/internal/fault"
)

type studentRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	Department string `db:"department"`
	RFIDUID    string `db:"rfid_uid"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r studentRow) toStudent() *Student {
	return &Student{
		ID:         r.ID,
		Name:       r.Name,
		Department: r.Department,
		RFIDUID:    r.RFIDUID,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

// InsertStudent persists a new student and fills in its id and timestamps.
func InsertStudent(ctx context.Context, ext sqlx.ExtContext, st *Student) error {
	now := time.Now()
	st.CreatedAt, st.UpdatedAt = now, now

	q := rebind(ext, `INSERT INTO students (name, department, rfid_uid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	id, err := execInsert(ctx, ext, q,
		st.Name, st.Department, st.RFIDUID, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.Conflict, "student.rfid_taken", "rfid uid %q already registered", st.RFIDUID)
		}
		return err
	}
	st.ID = id
	return nil
}

// StudentByID loads one student.
func StudentByID(ctx context.Context, ext sqlx.ExtContext, id int64) (*Student, error) {
	var row studentRow
	q := rebind(ext, `SELECT id, name, department, rfid_uid, created_at, updated_at FROM students WHERE id = ?`)
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "student.not_found", "student %d not found", id)
		}
		return nil, err
	}
	return row.toStudent(), nil
}

// StudentByRFID resolves a scanned uid to a student: exact match first,
// then case-insensitive.
func StudentByRFID(ctx context.Context, ext sqlx.ExtContext, uid string) (*Student, error) {
	var row studentRow
	q := rebind(ext, `SELECT id, name, department, rfid_uid, created_at, updated_at FROM students WHERE rfid_uid = ?`)
	err := sqlx.GetContext(ctx, ext, &row, q, uid)
	if errors.Is(err, sql.ErrNoRows) {
		q = rebind(ext, `SELECT id, name, department, rfid_uid, created_at, updated_at FROM students WHERE LOWER(rfid_uid) = ?`)
		err = sqlx.GetContext(ctx, ext, &row, q, strings.ToLower(uid))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "student.unknown_rfid", "no student with rfid uid %q", uid)
		}
		return nil, err
	}
	return row.toStudent(), nil
}

// CreateStudent persists a new student.
func (s *Store) CreateStudent(ctx context.Context, st *Student) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := InsertStudent(ctx, s.handle(), st)
	s.observe(err)
	return err
}

// StudentByID loads one student.
func (s *Store) StudentByID(ctx context.Context, id int64) (*Student, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	st, err := StudentByID(ctx, s.handle(), id)
	s.observe(err)
	return st, err
}

// StudentByRFID resolves a scanned uid to a student.
func (s *Store) StudentByRFID(ctx context.Context, uid string) (*Student, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	st, err := StudentByRFID(ctx, s.handle(), uid)
	s.observe(err)
	return st, err
}

// UpdateStudent rewrites the mutable fields of a student.
func (s *Store) UpdateStudent(ctx context.Context, st *Student) error {
	if err := s.guard(); err != nil {
		return err
	}
	st.UpdatedAt = time.Now()
	q := rebind(s.handle(), `UPDATE students SET name = ?, department = ?, rfid_uid = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.handle().ExecContext(ctx, q,
		st.Name, st.Department, st.RFIDUID, formatTime(st.UpdatedAt), st.ID)
	s.observe(err)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.Conflict, "student.rfid_taken", "rfid uid %q already registered", st.RFIDUID)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "student.not_found", "student %d not found", st.ID)
	}
	return nil
}

// DeleteStudent removes a student record.
func (s *Store) DeleteStudent(ctx context.Context, id int64) error {
	if err := s.guard(); err != nil {
		return err
	}
	q := rebind(s.handle(), `DELETE FROM students WHERE id = ?`)
	res, err := s.handle().ExecContext(ctx, q, id)
	s.observe(err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "student.not_found", "student %d not found", id)
	}
	return nil
}

// ListStudents returns all students ordered by name.
func (s *Store) ListStudents(ctx context.Context) ([]Student, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows []studentRow
	q := `SELECT id, name, department, rfid_uid, created_at, updated_at FROM students ORDER BY name, id`
	err := s.handle().SelectContext(ctx, &rows, q)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	out := make([]Student, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toStudent())
	}
	return out, nil
}
