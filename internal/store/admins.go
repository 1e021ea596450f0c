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

const adminCols = `id, username, password_hash, salt, active, force_change,
	last_change, created_at, updated_at`

type adminRow struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	Salt         string `db:"salt"`
	Active       bool   `db:"active"`
	ForceChange  bool   `db:"force_change"`
	LastChange   string `db:"last_change"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r adminRow) toAdmin() *Admin {
	return &Admin{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Salt:         r.Salt,
		Active:       r.Active,
		ForceChange:  r.ForceChange,
		LastChange:   parseTime(r.LastChange),
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

// InsertAdmin persists a new administrator and fills in its id.
func InsertAdmin(ctx context.Context, ext sqlx.ExtContext, a *Admin) error {
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.LastChange.IsZero() {
		a.LastChange = now
	}

	q := rebind(ext, `INSERT INTO admins
		(username, password_hash, salt, active, force_change, last_change, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	id, err := execInsert(ctx, ext, q,
		a.Username, a.PasswordHash, a.Salt, a.Active, a.ForceChange,
		formatTime(a.LastChange), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.Conflict, "admin.username_taken", "username %q already exists", a.Username)
		}
		return err
	}
	a.ID = id
	return nil
}

// AnyAdmins reports whether at least one admin account exists, active or not.
func AnyAdmins(ctx context.Context, ext sqlx.ExtContext) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, ext, &n, `SELECT COUNT(1) FROM admins`); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountActiveAdmins counts active administrator accounts.
func CountActiveAdmins(ctx context.Context, ext sqlx.ExtContext) (int, error) {
	var n int
	q := rebind(ext, `SELECT COUNT(1) FROM admins WHERE active = ?`)
	if err := sqlx.GetContext(ctx, ext, &n, q, true); err != nil {
		return 0, err
	}
	return n, nil
}

// SetAdminActive flips the active flag. The last-active-admin guard lives
// in the caller's transaction, next to CountActiveAdmins.
func SetAdminActive(ctx context.Context, ext sqlx.ExtContext, id int64, active bool) error {
	q := rebind(ext, `UPDATE admins SET active = ?, updated_at = ? WHERE id = ?`)
	res, err := ext.ExecContext(ctx, q, active, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "admin.not_found", "admin %d not found", id)
	}
	return nil
}

// CreateAdmin persists a new administrator.
func (s *Store) CreateAdmin(ctx context.Context, a *Admin) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := InsertAdmin(ctx, s.handle(), a)
	s.observe(err)
	return err
}

// AdminByUsername loads one administrator by exact username.
func (s *Store) AdminByUsername(ctx context.Context, username string) (*Admin, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var row adminRow
	q := rebind(s.handle(), `SELECT `+adminCols+` FROM admins WHERE username = ?`)
	err := s.handle().GetContext(ctx, &row, q, username)
	s.observe(err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "admin.not_found", "admin %q not found", username)
		}
		return nil, err
	}
	return row.toAdmin(), nil
}

// AdminByID loads one administrator.
func (s *Store) AdminByID(ctx context.Context, id int64) (*Admin, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var row adminRow
	q := rebind(s.handle(), `SELECT `+adminCols+` FROM admins WHERE id = ?`)
	err := s.handle().GetContext(ctx, &row, q, id)
	s.observe(err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "admin.not_found", "admin %d not found", id)
		}
		return nil, err
	}
	return row.toAdmin(), nil
}

// UpdateAdminPassword replaces the credential material and stamps
// last_change. A legacy salt is cleared when rehashing to bcrypt.
func (s *Store) UpdateAdminPassword(ctx context.Context, id int64, hash, salt string, forceChange bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := time.Now()
	q := rebind(s.handle(), `UPDATE admins SET password_hash = ?, salt = ?, force_change = ?,
		last_change = ?, updated_at = ? WHERE id = ?`)
	res, err := s.handle().ExecContext(ctx, q,
		hash, salt, forceChange, formatTime(now), formatTime(now), id)
	s.observe(err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.NotFound, "admin.not_found", "admin %d not found", id)
	}
	return nil
}

// AnyAdmins reports whether at least one admin account exists.
func (s *Store) AnyAdmins(ctx context.Context) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	ok, err := AnyAdmins(ctx, s.handle())
	s.observe(err)
	return ok, err
}

// ListAdmins returns all administrators ordered by username.
func (s *Store) ListAdmins(ctx context.Context) ([]Admin, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows []adminRow
	q := `SELECT ` + adminCols + ` FROM admins ORDER BY username`
	err := s.handle().SelectContext(ctx, &rows, q)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	out := make([]Admin, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toAdmin())
	}
	return out, nil
}
