// SPDX-License-Identifier: MIT

// Package auth authenticates students (by RFID scan) and admins (by
// credentials with lockout), and owns the in-memory session table.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/cache"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/metrics"
	"github.com/consultease/central/internal/rfid"
	"github.com/consultease/central/internal/store"
)

// ScanHandler receives the outcome of every card scan: the resolved
// student, or an unknown_card fault. Exactly this interface, no
// reflection on callback shapes.
type ScanHandler interface {
	OnScan(student *store.Student, uid string, err error)
}

// ScanHandlerFunc adapts a function to ScanHandler.
type ScanHandlerFunc func(student *store.Student, uid string, err error)

func (f ScanHandlerFunc) OnScan(student *store.Student, uid string, err error) {
	f(student, uid, err)
}

// LoginResult is a successful admin authentication.
type LoginResult struct {
	Admin     *store.Admin
	SessionID string
	CSRFToken string

	// ForceChange is set on first login, after an admin reset, or when
	// the password age exceeds the rotation interval.
	ForceChange bool
}

// Service is the authentication and session manager.
type Service struct {
	db        *store.Store
	rec       *audit.Recorder
	cfg       config.SecuritySettings
	lookup    cache.Cache
	lookupTTL time.Duration
	logger    zerolog.Logger

	Sessions *Sessions
	lockout  *lockoutTable
}

// New builds the service. The lookup cache holds RFID-to-student
// resolutions and must be invalidated on student mutations.
func New(db *store.Store, rec *audit.Recorder, lookup cache.Cache, cfg config.SecuritySettings, lookupTTL time.Duration) *Service {
	s := &Service{
		db:        db,
		rec:       rec,
		cfg:       cfg,
		lookup:    lookup,
		lookupTTL: lookupTTL,
		logger:    log.WithComponent("auth"),
		Sessions:  NewSessions(cfg.SessionIdleTimeout, cfg.InvalidateOnAddrChange),
		lockout:   newLockoutTable(cfg.LockoutThreshold, cfg.LockoutWindow),
	}
	s.Sessions.OnAddrChange(func(sess Session, oldAddr string) {
		s.rec.Record(context.Background(), audit.Event{
			Type:       audit.EventSessionRevoked,
			ActorName:  string(sess.Kind),
			Action:     "session source address changed",
			Resource:   "session/" + sess.ID,
			Outcome:    store.AuditWarning,
			SourceAddr: sess.SourceAddr,
			Details:    map[string]string{"old_addr": oldAddr},
		})
	})
	return s
}

// AuthenticateStudent resolves a card scan to an active student: exact
// rfid_uid match first, then case-insensitive.
func (s *Service) AuthenticateStudent(ctx context.Context, uid string) (*store.Student, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, fault.New(fault.Validation, "auth.empty_scan", "empty card scan")
	}

	cacheKey := "student:rfid:" + strings.ToUpper(uid)
	if v, ok := s.lookup.Get(cacheKey); ok {
		metrics.LookupCacheTotal.WithLabelValues("hit").Inc()
		if st, ok := v.(*store.Student); ok {
			return st, nil
		}
	}
	metrics.LookupCacheTotal.WithLabelValues("miss").Inc()

	st, err := s.db.StudentByRFID(ctx, uid)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			metrics.RFIDScansTotal.WithLabelValues("unknown").Inc()
			s.rec.Record(ctx, audit.Event{
				Type:      audit.EventScanRejected,
				ActorName: "kiosk",
				Action:    "unknown card scanned",
				Outcome:   store.AuditFailure,
				Details:   map[string]string{"uid": uid},
			})
			return nil, fault.New(fault.Unauthorized, "unknown_card", "card is not registered")
		}
		return nil, err
	}

	metrics.RFIDScansTotal.WithLabelValues("matched").Inc()
	s.lookup.Set(cacheKey, st, s.lookupTTL)
	return st, nil
}

// InvalidateStudentLookup drops a student's cache entry after a
// mutation.
func (s *Service) InvalidateStudentLookup(rfidUID string) {
	s.lookup.Delete("student:rfid:" + strings.ToUpper(strings.TrimSpace(rfidUID)))
}

// HandleScan is the single consumer of the RFID scan channel. It
// resolves each scan, opens a kiosk session for known students and
// reports the outcome to the handler.
func (s *Service) HandleScan(ctx context.Context, scan rfid.Scan, h ScanHandler) {
	st, err := s.AuthenticateStudent(ctx, scan.UID)
	if err != nil {
		h.OnScan(nil, scan.UID, err)
		return
	}
	s.Sessions.Open(st.ID, SubjectStudent, "kiosk", "")
	s.logger.Info().
		Int64(log.FieldStudentID, st.ID).
		Str("event", "auth.student_authenticated").Msg("student authenticated by card")
	h.OnScan(st, scan.UID, nil)
}

// AuthenticateAdmin verifies admin credentials with lockout, legacy
// rehash and password-age enforcement.
func (s *Service) AuthenticateAdmin(ctx context.Context, username, password, sourceAddr string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	now := time.Now()

	if remaining := s.lockout.remaining(username, now); remaining > 0 {
		metrics.LoginsTotal.WithLabelValues("locked").Inc()
		s.rec.Lockout(ctx, username, sourceAddr, remaining)
		return nil, fault.LockedFor("auth.locked", "too many failed attempts", remaining)
	}

	admin, err := s.db.AdminByUsername(ctx, username)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			s.fail(ctx, username, sourceAddr, "unknown user")
			return nil, fault.New(fault.Unauthorized, "auth.invalid", "invalid credentials")
		}
		return nil, err
	}
	if !admin.Active {
		s.fail(ctx, username, sourceAddr, "inactive account")
		return nil, fault.New(fault.Unauthorized, "auth.invalid", "invalid credentials")
	}

	ok, legacy := VerifyPassword(password, admin.PasswordHash, admin.Salt)
	if !ok {
		s.fail(ctx, username, sourceAddr, "wrong password")
		return nil, fault.New(fault.Unauthorized, "auth.invalid", "invalid credentials")
	}

	if legacy {
		// Transparent upgrade to the modern hash family.
		if newHash, err := HashPassword(password, s.cfg.BcryptCost); err == nil {
			if err := s.db.UpdateAdminPassword(ctx, admin.ID, newHash, "", admin.ForceChange); err == nil {
				metrics.PasswordRehashesTotal.Inc()
				s.logger.Info().Int64(log.FieldAdminID, admin.ID).
					Str("event", "auth.rehashed").Msg("legacy password hash upgraded")
			}
		}
	}

	s.lockout.clear(username)
	sess := s.Sessions.Open(admin.ID, SubjectAdmin, sourceAddr, "")
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.rec.LoginSuccess(ctx, admin.ID, username, sourceAddr)

	forceChange := admin.ForceChange
	if s.cfg.PasswordMaxAge > 0 && now.Sub(admin.LastChange) > s.cfg.PasswordMaxAge {
		metrics.LoginsTotal.WithLabelValues("expired_password").Inc()
		forceChange = true
	}

	return &LoginResult{
		Admin:       admin,
		SessionID:   sess.ID,
		CSRFToken:   sess.CSRFToken,
		ForceChange: forceChange,
	}, nil
}

func (s *Service) fail(ctx context.Context, username, addr, reason string) {
	metrics.LoginsTotal.WithLabelValues("failure").Inc()
	s.rec.LoginFailure(ctx, username, addr, reason)
	if s.lockout.recordFailure(username, addr, time.Now()) {
		metrics.LockoutsTotal.Inc()
		s.rec.Lockout(ctx, username, addr, s.cfg.LockoutWindow)
		s.logger.Warn().Str("username", username).Str(log.FieldRemoteAddr, addr).
			Str("event", "auth.lockout").Msg("lockout threshold reached")
	}
}
