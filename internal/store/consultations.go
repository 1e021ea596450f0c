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

const consultationCols = `id, student_id, faculty_id, request_text, course_code,
	status, requested_at, responded_at, completed_at`

type consultationRow struct {
	ID          int64          `db:"id"`
	StudentID   int64          `db:"student_id"`
	FacultyID   int64          `db:"faculty_id"`
	RequestText string         `db:"request_text"`
	CourseCode  string         `db:"course_code"`
	Status      string         `db:"status"`
	RequestedAt string         `db:"requested_at"`
	RespondedAt sql.NullString `db:"responded_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

func (r consultationRow) toConsultation() *Consultation {
	return &Consultation{
		ID:          r.ID,
		StudentID:   r.StudentID,
		FacultyID:   r.FacultyID,
		RequestText: r.RequestText,
		CourseCode:  r.CourseCode,
		Status:      ConsultationStatus(r.Status),
		RequestedAt: parseTime(r.RequestedAt),
		RespondedAt: parseNullTime(r.RespondedAt),
		CompletedAt: parseNullTime(r.CompletedAt),
	}
}

// InsertConsultation persists a new request in state pending and fills in
// its id and requested_at.
func InsertConsultation(ctx context.Context, ext sqlx.ExtContext, c *Consultation) error {
	c.Status = StatusPending
	c.RequestedAt = time.Now()

	q := rebind(ext, `INSERT INTO consultations
		(student_id, faculty_id, request_text, course_code, status, requested_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	id, err := execInsert(ctx, ext, q,
		c.StudentID, c.FacultyID, c.RequestText, c.CourseCode,
		string(c.Status), formatTime(c.RequestedAt))
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// GetConsultation loads one consultation.
func GetConsultation(ctx context.Context, ext sqlx.ExtContext, id int64) (*Consultation, error) {
	var row consultationRow
	q := rebind(ext, `SELECT `+consultationCols+` FROM consultations WHERE id = ?`)
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "consultation.not_found", "consultation %d not found", id)
		}
		return nil, err
	}
	return row.toConsultation(), nil
}

// HasOpenConsultation reports whether the student already has a pending or
// accepted request with the same faculty.
func HasOpenConsultation(ctx context.Context, ext sqlx.ExtContext, studentID, facultyID int64) (bool, error) {
	var n int
	q := rebind(ext, `SELECT COUNT(1) FROM consultations
		WHERE student_id = ? AND faculty_id = ? AND status IN ('pending', 'accepted')`)
	if err := sqlx.GetContext(ctx, ext, &n, q, studentID, facultyID); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransitionConsultation advances a consultation from one exact state to
// the next, stamping responded_at on the first departure from pending and
// completed_at on entering a terminal state. The prior-state guard in the
// WHERE clause makes stale transitions report false instead of applying.
func TransitionConsultation(ctx context.Context, ext sqlx.ExtContext, id int64, from, to ConsultationStatus, at time.Time) (bool, error) {
	set := `status = ?`
	args := []any{string(to)}
	if from == StatusPending {
		set += `, responded_at = COALESCE(responded_at, ?)`
		args = append(args, formatTime(at))
	}
	if to.Terminal() {
		set += `, completed_at = ?`
		args = append(args, formatTime(at))
	}
	args = append(args, id, string(from))

	q := rebind(ext, `UPDATE consultations SET `+set+` WHERE id = ? AND status = ?`)
	res, err := ext.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// OpenConsultations returns every pending and accepted consultation,
// oldest first. The engine rebuilds its in-flight index from this on
// startup.
func OpenConsultations(ctx context.Context, ext sqlx.ExtContext) ([]Consultation, error) {
	var rows []consultationRow
	q := `SELECT ` + consultationCols + ` FROM consultations
		WHERE status IN ('pending', 'accepted') ORDER BY requested_at, id`
	if err := sqlx.SelectContext(ctx, ext, &rows, q); err != nil {
		return nil, err
	}
	out := make([]Consultation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toConsultation())
	}
	return out, nil
}

// ConsultationByID loads one consultation.
func (s *Store) ConsultationByID(ctx context.Context, id int64) (*Consultation, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	c, err := GetConsultation(ctx, s.handle(), id)
	s.observe(err)
	return c, err
}

// OpenConsultations returns every pending and accepted consultation.
func (s *Store) OpenConsultations(ctx context.Context) ([]Consultation, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	list, err := OpenConsultations(ctx, s.handle())
	s.observe(err)
	return list, err
}

// ConsultationsForFaculty returns the newest consultations addressed to a
// faculty member, bounded by limit.
func (s *Store) ConsultationsForFaculty(ctx context.Context, facultyID int64, limit int) ([]Consultation, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows []consultationRow
	q := rebind(s.handle(), `SELECT `+consultationCols+` FROM consultations
		WHERE faculty_id = ? ORDER BY requested_at DESC, id DESC LIMIT ?`)
	err := s.handle().SelectContext(ctx, &rows, q, facultyID, limit)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	out := make([]Consultation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toConsultation())
	}
	return out, nil
}

// ConsultationsForStudent returns the newest consultations created by a
// student, bounded by limit.
func (s *Store) ConsultationsForStudent(ctx context.Context, studentID int64, limit int) ([]Consultation, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows []consultationRow
	q := rebind(s.handle(), `SELECT `+consultationCols+` FROM consultations
		WHERE student_id = ? ORDER BY requested_at DESC, id DESC LIMIT ?`)
	err := s.handle().SelectContext(ctx, &rows, q, studentID, limit)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	out := make([]Consultation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toConsultation())
	}
	return out, nil
}
