// SPDX-License-Identifier: MIT

// Package adminops implements the administrative operations: student and
// faculty record management, beacon assignment, admin account lifecycle
// and first-run setup. Every mutation lands in the audit trail.
package adminops

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/auth"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/store"
)

// Presence is the slice of the presence tracker admin operations touch:
// roster changes and beacon moves must reach the in-memory state without
// waiting for the next restart.
type Presence interface {
	TrackFaculty(f *store.Faculty)
	ForgetFaculty(facultyID int64)
	SetAlwaysPresent(facultyID int64, v bool)
	NotifyReassigned(oldFacultyID, newFacultyID int64, beaconID string, at time.Time)
}

// Actor identifies the admin performing an operation, for the audit trail.
type Actor struct {
	ID   int64
	Name string
	Addr string
}

func (a Actor) event(typ audit.EventType, action, resource string, outcome store.AuditOutcome, details map[string]string) audit.Event {
	ev := audit.Event{
		Type:       typ,
		ActorName:  a.Name,
		Action:     action,
		Resource:   resource,
		Outcome:    outcome,
		SourceAddr: a.Addr,
		Details:    details,
	}
	if a.ID != 0 {
		id := a.ID
		ev.ActorID = &id
	}
	return ev
}

// StudentParams carries the admin-editable fields of a student record.
type StudentParams struct {
	Name       string `validate:"required,min=2,max=100"`
	Department string `validate:"required,max=100"`
	RFIDUID    string `validate:"required,min=4,max=32,alphanum"`
}

// FacultyParams carries the admin-editable fields of a faculty record.
type FacultyParams struct {
	Name       string `validate:"required,min=2,max=100"`
	Department string `validate:"required,max=100"`
	Email      string `validate:"required,email,max=254"`
	ImageRef   string `validate:"omitempty,max=255"`
	BeaconID   string `validate:"omitempty,max=64"`
}

// AdminParams carries the fields of a new administrator account.
type AdminParams struct {
	Username string `validate:"required,min=3,max=64,printascii,excludesall=0x20"`
	Password string `validate:"required"`
}

// Service executes administrative operations against the store, keeping
// the presence tracker and the auth caches in step with every mutation.
type Service struct {
	db       *store.Store
	rec      *audit.Recorder
	auth     *auth.Service
	presence Presence
	cfg      config.SecuritySettings
	validate *validator.Validate
	logger   zerolog.Logger
}

// New builds the service. presence and authSvc may be nil in tools that
// only touch the database (first-run setup, migrations).
func New(db *store.Store, rec *audit.Recorder, authSvc *auth.Service, pres Presence, cfg config.SecuritySettings) *Service {
	return &Service{
		db:       db,
		rec:      rec,
		auth:     authSvc,
		presence: pres,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithComponent("adminops"),
	}
}

func (s *Service) check(scope string, params any) error {
	err := s.validate.Struct(params)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		f := verrs[0]
		return fault.Newf(fault.Validation, scope+".invalid",
			"field %s fails %q", strings.ToLower(f.Field()), f.Tag())
	}
	return fault.Wrap(fault.Validation, scope+".invalid", "invalid parameters", err)
}

// --- students ---

// CreateStudent registers a new student. The card uid is stored uppercase
// so scans match regardless of reader casing.
func (s *Service) CreateStudent(ctx context.Context, actor Actor, p StudentParams) (*store.Student, error) {
	p.RFIDUID = strings.ToUpper(strings.TrimSpace(p.RFIDUID))
	if err := s.check("student", p); err != nil {
		return nil, err
	}
	st := &store.Student{
		Name:       strings.TrimSpace(p.Name),
		Department: strings.TrimSpace(p.Department),
		RFIDUID:    p.RFIDUID,
	}
	if err := s.db.CreateStudent(ctx, st); err != nil {
		return nil, err
	}
	s.invalidateLookup(st.RFIDUID)
	s.rec.Record(ctx, actor.event(audit.EventStudentCreated, "student registered",
		"student/"+strconv.FormatInt(st.ID, 10), store.AuditSuccess,
		map[string]string{"name": st.Name, "rfid_uid": st.RFIDUID}))
	return st, nil
}

// UpdateStudent rewrites a student's editable fields and drops any stale
// scan-cache entries for the old and new card uids.
func (s *Service) UpdateStudent(ctx context.Context, actor Actor, id int64, p StudentParams) (*store.Student, error) {
	p.RFIDUID = strings.ToUpper(strings.TrimSpace(p.RFIDUID))
	if err := s.check("student", p); err != nil {
		return nil, err
	}
	st, err := s.db.StudentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldUID := st.RFIDUID
	st.Name = strings.TrimSpace(p.Name)
	st.Department = strings.TrimSpace(p.Department)
	st.RFIDUID = p.RFIDUID
	if err := s.db.UpdateStudent(ctx, st); err != nil {
		return nil, err
	}
	s.invalidateLookup(oldUID)
	s.invalidateLookup(st.RFIDUID)
	s.rec.Record(ctx, actor.event(audit.EventStudentUpdated, "student updated",
		"student/"+strconv.FormatInt(id, 10), store.AuditSuccess, nil))
	return st, nil
}

// DeleteStudent removes a student and closes any kiosk session they hold.
func (s *Service) DeleteStudent(ctx context.Context, actor Actor, id int64) error {
	st, err := s.db.StudentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteStudent(ctx, id); err != nil {
		return err
	}
	s.invalidateLookup(st.RFIDUID)
	if s.auth != nil {
		s.auth.Sessions.InvalidateAllFor(id, auth.SubjectStudent)
	}
	s.rec.Record(ctx, actor.event(audit.EventStudentDeleted, "student removed",
		"student/"+strconv.FormatInt(id, 10), store.AuditSuccess,
		map[string]string{"name": st.Name}))
	return nil
}

func (s *Service) invalidateLookup(rfidUID string) {
	if s.auth != nil {
		s.auth.InvalidateStudentLookup(rfidUID)
	}
}

// --- faculty ---

// CreateFaculty registers a new faculty member. A beacon id, when given,
// is normalized and must not already belong to someone else.
func (s *Service) CreateFaculty(ctx context.Context, actor Actor, p FacultyParams) (*store.Faculty, error) {
	if err := s.check("faculty", p); err != nil {
		return nil, err
	}
	beacon, err := NormalizeBeacon(p.BeaconID)
	if err != nil {
		return nil, err
	}
	f := &store.Faculty{
		Name:       strings.TrimSpace(p.Name),
		Department: strings.TrimSpace(p.Department),
		Email:      strings.ToLower(strings.TrimSpace(p.Email)),
		BeaconID:   beacon,
		ImageRef:   strings.TrimSpace(p.ImageRef),
	}
	if err := s.db.CreateFaculty(ctx, f); err != nil {
		return nil, err
	}
	if s.presence != nil {
		s.presence.TrackFaculty(f)
	}
	details := map[string]string{"name": f.Name}
	if beacon != "" {
		details["beacon_id"] = beacon
	}
	s.rec.Record(ctx, actor.event(audit.EventFacultyCreated, "faculty registered",
		"faculty/"+strconv.FormatInt(f.ID, 10), store.AuditSuccess, details))
	return f, nil
}

// UpdateFaculty rewrites the editable fields. Beacon moves go through
// AssignBeacon; presence fields stay owned by the tracker.
func (s *Service) UpdateFaculty(ctx context.Context, actor Actor, id int64, p FacultyParams) (*store.Faculty, error) {
	if err := s.check("faculty", p); err != nil {
		return nil, err
	}
	f, err := s.db.FacultyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.Name = strings.TrimSpace(p.Name)
	f.Department = strings.TrimSpace(p.Department)
	f.Email = strings.ToLower(strings.TrimSpace(p.Email))
	f.ImageRef = strings.TrimSpace(p.ImageRef)
	if err := s.db.UpdateFaculty(ctx, f); err != nil {
		return nil, err
	}
	if s.presence != nil {
		s.presence.TrackFaculty(f)
	}
	s.rec.Record(ctx, actor.event(audit.EventFacultyUpdated, "faculty updated",
		"faculty/"+strconv.FormatInt(id, 10), store.AuditSuccess, nil))
	return f, nil
}

// DeleteFaculty removes a faculty record and drops it from the tracker.
func (s *Service) DeleteFaculty(ctx context.Context, actor Actor, id int64) error {
	f, err := s.db.FacultyByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteFaculty(ctx, id); err != nil {
		return err
	}
	if s.presence != nil {
		s.presence.ForgetFaculty(id)
	}
	s.rec.Record(ctx, actor.event(audit.EventFacultyDeleted, "faculty removed",
		"faculty/"+strconv.FormatInt(id, 10), store.AuditSuccess,
		map[string]string{"name": f.Name}))
	return nil
}

// AssignBeacon binds a beacon to a faculty member. A beacon already bound
// to someone else is moved: the old owner loses it in the same
// transaction and the tracker transfers any live sighting state.
func (s *Service) AssignBeacon(ctx context.Context, actor Actor, facultyID int64, beaconID string) error {
	beacon, err := NormalizeBeacon(beaconID)
	if err != nil {
		return err
	}
	if beacon == "" {
		return fault.New(fault.Validation, "beacon.empty", "beacon id is required")
	}

	var prevOwner int64
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		target, err := store.FacultyByID(ctx, tx, facultyID)
		if err != nil {
			return err
		}
		owner, err := store.FacultyByBeacon(ctx, tx, beacon)
		switch {
		case err == nil && owner.ID == target.ID:
			return nil // already bound, nothing to move
		case err == nil:
			prevOwner = owner.ID
			if err := store.SetBeacon(ctx, tx, owner.ID, ""); err != nil {
				return err
			}
		case !fault.IsKind(err, fault.NotFound):
			return err
		}
		return store.SetBeacon(ctx, tx, target.ID, beacon)
	})
	if err != nil {
		return err
	}

	now := time.Now()
	if prevOwner != 0 {
		if s.presence != nil {
			s.presence.NotifyReassigned(prevOwner, facultyID, beacon, now)
		}
		s.rec.Record(ctx, actor.event(audit.EventBeaconReassigned, "beacon moved to another faculty",
			"faculty/"+strconv.FormatInt(facultyID, 10), store.AuditWarning,
			map[string]string{
				"beacon_id":  beacon,
				"prev_owner": strconv.FormatInt(prevOwner, 10),
			}))
		return nil
	}
	if f, err := s.db.FacultyByID(ctx, facultyID); err == nil && s.presence != nil {
		s.presence.TrackFaculty(f)
	}
	s.rec.Record(ctx, actor.event(audit.EventBeaconAssigned, "beacon assigned",
		"faculty/"+strconv.FormatInt(facultyID, 10), store.AuditSuccess,
		map[string]string{"beacon_id": beacon}))
	return nil
}

// SetAlwaysPresent toggles the manual availability override.
func (s *Service) SetAlwaysPresent(ctx context.Context, actor Actor, facultyID int64, v bool) error {
	if err := s.db.SetAlwaysPresent(ctx, facultyID, v); err != nil {
		return err
	}
	if s.presence != nil {
		s.presence.SetAlwaysPresent(facultyID, v)
	}
	s.rec.Record(ctx, actor.event(audit.EventAlwaysPresentSet, "always-present override changed",
		"faculty/"+strconv.FormatInt(facultyID, 10), store.AuditSuccess,
		map[string]string{"always_present": strconv.FormatBool(v)}))
	return nil
}

// --- admins ---

// CreateAdmin registers a new administrator account.
func (s *Service) CreateAdmin(ctx context.Context, actor Actor, p AdminParams) (*store.Admin, error) {
	p.Username = strings.TrimSpace(p.Username)
	if err := s.check("admin", p); err != nil {
		return nil, err
	}
	if err := auth.CheckPolicy(p.Password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(p.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	a := &store.Admin{Username: p.Username, PasswordHash: hash, Active: true}
	if err := s.db.CreateAdmin(ctx, a); err != nil {
		return nil, err
	}
	s.rec.Record(ctx, actor.event(audit.EventAdminCreated, "admin account created",
		"admin/"+strconv.FormatInt(a.ID, 10), store.AuditSuccess,
		map[string]string{"username": a.Username}))
	return a, nil
}

// DeactivateAdmin disables an account. The last active administrator can
// never be deactivated; the check and the flip share one transaction so
// two concurrent deactivations cannot race past the guard.
func (s *Service) DeactivateAdmin(ctx context.Context, actor Actor, id int64) error {
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := store.CountActiveAdmins(ctx, tx)
		if err != nil {
			return err
		}
		if n <= 1 {
			return fault.New(fault.Conflict, "admin.last_active",
				"cannot deactivate the last active administrator")
		}
		return store.SetAdminActive(ctx, tx, id, false)
	})
	if err != nil {
		return err
	}
	if s.auth != nil {
		s.auth.Sessions.InvalidateAllFor(id, auth.SubjectAdmin)
	}
	s.rec.Record(ctx, actor.event(audit.EventAdminDeactivated, "admin account deactivated",
		"admin/"+strconv.FormatInt(id, 10), store.AuditWarning, nil))
	return nil
}

// ChangeAdminPassword replaces an admin's password after verifying the
// current one. Every other session of that admin is revoked.
func (s *Service) ChangeAdminPassword(ctx context.Context, actor Actor, id int64, current, next string) error {
	a, err := s.db.AdminByID(ctx, id)
	if err != nil {
		return err
	}
	if ok, _ := auth.VerifyPassword(current, a.PasswordHash, a.Salt); !ok {
		return fault.New(fault.Unauthorized, "auth.invalid", "current password is wrong")
	}
	if err := auth.CheckPolicy(next); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.db.UpdateAdminPassword(ctx, id, hash, "", false); err != nil {
		return err
	}
	if s.auth != nil {
		s.auth.Sessions.InvalidateAllFor(id, auth.SubjectAdmin)
	}
	s.rec.Record(ctx, actor.event(audit.EventPasswordChange, "password changed",
		"admin/"+strconv.FormatInt(id, 10), store.AuditSuccess, nil))
	return nil
}

// EnsureFirstAdmin creates the bootstrap administrator on a fresh
// installation. It refuses to run once any admin account exists, active
// or not, so it can never be used to regain access to a live system.
func (s *Service) EnsureFirstAdmin(ctx context.Context, username, password string) (*store.Admin, error) {
	username = strings.TrimSpace(username)
	if err := s.check("admin", AdminParams{Username: username, Password: password}); err != nil {
		return nil, err
	}
	if err := auth.CheckPolicy(password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	a := &store.Admin{
		Username:     username,
		PasswordHash: hash,
		Active:       true,
		ForceChange:  true,
	}
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := store.AnyAdmins(ctx, tx)
		if err != nil {
			return err
		}
		if exists {
			return fault.New(fault.Conflict, "admin.exists",
				"an administrator account already exists")
		}
		return store.InsertAdmin(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64(log.FieldAdminID, a.ID).
		Str("event", "adminops.first_admin").Msg("bootstrap administrator created")
	s.rec.Record(ctx, audit.Event{
		Type:      audit.EventFirstAdminCreated,
		ActorName: "setup",
		Action:    "bootstrap administrator created",
		Resource:  "admin/" + strconv.FormatInt(a.ID, 10),
		Details:   map[string]string{"username": a.Username},
	})
	return a, nil
}
