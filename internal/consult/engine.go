// SPDX-License-Identifier: MIT

// Package consult owns the consultation lifecycle: request validation,
// the state machine, dispatch to desk units and the re-publish sweeper.
// Transitions for a single consultation are serialized by the exact
// prior-state guard on the durable row.
package consult

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/bus"
	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/metrics"
	"github.com/consultease/central/internal/store"
	"github.com/consultease/central/internal/telemetry"
)

// Publisher is the slice of the bus client the engine needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte)
	PublishDurable(topic string, payload []byte, qos byte) error
}

// dispatch tracks one pending consultation awaiting desk acknowledgement.
type dispatch struct {
	consultationID int64
	facultyID      int64
	payload        []byte
	lastAttempt    time.Time
	attempts       int
	exhausted      bool
}

// Engine is the consultation coordinator.
type Engine struct {
	db     *store.Store
	pub    Publisher
	rec    *audit.Recorder
	cfg    config.ConsultSettings
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[int64]*dispatch
}

// New builds the engine. Call Load before Run to rebuild the in-flight
// index from durable state.
func New(db *store.Store, pub Publisher, rec *audit.Recorder, cfg config.ConsultSettings) *Engine {
	return &Engine{
		db:       db,
		pub:      pub,
		rec:      rec,
		cfg:      cfg,
		logger:   log.WithComponent("consult"),
		inflight: make(map[int64]*dispatch),
	}
}

// Load rebuilds the dispatch index from pending rows. lastAttempt stays
// zero so the first sweep re-publishes everything that predates the
// restart.
func (e *Engine) Load(ctx context.Context) error {
	rows, err := e.db.OpenConsultations(ctx)
	if err != nil {
		return fault.Wrap(fault.Fatal, "consult.load", "in-flight consultations not rebuildable", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pending := 0
	for i := range rows {
		c := rows[i]
		if c.Status != store.StatusPending {
			continue
		}
		payload, err := e.requestPayload(ctx, &c)
		if err != nil {
			e.logger.Error().Err(err).Int64(log.FieldConsultID, c.ID).
				Str("event", "consult.rebuild_failed").Msg("dispatch payload not rebuildable")
			continue
		}
		e.inflight[c.ID] = &dispatch{
			consultationID: c.ID,
			facultyID:      c.FacultyID,
			payload:        payload,
		}
		pending++
	}
	metrics.PendingDispatches.Set(float64(pending))
	e.logger.Info().Int("pending", pending).Str("event", "consult.loaded").Msg("dispatch index rebuilt")
	return nil
}

// Create validates and persists a new request, then dispatches it to the
// faculty's desk unit.
func (e *Engine) Create(ctx context.Context, studentID, facultyID int64, requestText, courseCode string) (*store.Consultation, error) {
	requestText = strings.TrimSpace(requestText)
	courseCode = strings.TrimSpace(courseCode)
	if requestText == "" {
		return nil, fault.New(fault.Validation, "consultation.text", "request text is required")
	}
	if len(requestText) > e.cfg.MaxRequestLen {
		return nil, fault.Newf(fault.Validation, "consultation.text",
			"request text exceeds %d characters", e.cfg.MaxRequestLen)
	}
	if len(courseCode) > e.cfg.MaxCourseLen {
		return nil, fault.Newf(fault.Validation, "consultation.course",
			"course code exceeds %d characters", e.cfg.MaxCourseLen)
	}

	c := &store.Consultation{
		StudentID:   studentID,
		FacultyID:   facultyID,
		RequestText: requestText,
		CourseCode:  courseCode,
	}
	var studentName string

	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		st, err := store.StudentByID(ctx, tx, studentID)
		if err != nil {
			return err
		}
		studentName = st.Name
		if _, err := store.FacultyByID(ctx, tx, facultyID); err != nil {
			return err
		}
		open, err := store.HasOpenConsultation(ctx, tx, studentID, facultyID)
		if err != nil {
			return err
		}
		if open {
			return fault.New(fault.Conflict, "consultation.duplicate",
				"an open request with this faculty already exists")
		}
		return store.InsertConsultation(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}

	metrics.ConsultationsCreatedTotal.Inc()
	e.logger.Info().
		Int64(log.FieldConsultID, c.ID).
		Int64(log.FieldStudentID, studentID).
		Int64(log.FieldFacultyID, facultyID).
		Str("event", "consult.created").Msg("consultation created")

	payload, err := json.Marshal(bus.Request{
		ConsultationID: c.ID,
		StudentName:    studentName,
		CourseCode:     c.CourseCode,
		Message:        c.RequestText,
		RequestedAt:    c.RequestedAt,
	})
	if err != nil {
		return c, nil
	}

	d := &dispatch{consultationID: c.ID, facultyID: facultyID, payload: payload}
	e.mu.Lock()
	e.inflight[c.ID] = d
	metrics.PendingDispatches.Set(float64(len(e.inflight)))
	e.mu.Unlock()

	e.send(d)
	return c, nil
}

// requestPayload rebuilds the desk-bound payload for an existing row.
func (e *Engine) requestPayload(ctx context.Context, c *store.Consultation) ([]byte, error) {
	st, err := e.db.StudentByID(ctx, c.StudentID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bus.Request{
		ConsultationID: c.ID,
		StudentName:    st.Name,
		CourseCode:     c.CourseCode,
		Message:        c.RequestText,
		RequestedAt:    c.RequestedAt,
	})
}

// send enqueues one dispatch attempt. Delivery intent is durable: it
// survives broker outages in the spool.
func (e *Engine) send(d *dispatch) {
	_, span := telemetry.Tracer("consult").Start(context.Background(), "consult.dispatch")
	span.SetAttributes(telemetry.ConsultAttributes(d.consultationID, string(store.StatusPending), "")...)
	defer span.End()

	err := e.pub.PublishDurable(bus.RequestsTopic(d.facultyID), d.payload, 1)

	e.mu.Lock()
	d.attempts++
	d.lastAttempt = time.Now()
	e.mu.Unlock()

	if err != nil {
		metrics.DispatchAttemptsTotal.WithLabelValues("failed").Inc()
		e.logger.Error().Err(err).Int64(log.FieldConsultID, d.consultationID).
			Str("event", "consult.dispatch_failed").Msg("dispatch intent not persisted")
		return
	}
	metrics.DispatchAttemptsTotal.WithLabelValues("queued").Inc()
	e.logger.Debug().Int64(log.FieldConsultID, d.consultationID).
		Int64(log.FieldFacultyID, d.facultyID).
		Str("event", "consult.dispatched").Msg("request queued for desk unit")
}

// HandleResponse applies a desk unit's verdict from the responses topic.
func (e *Engine) HandleResponse(ctx context.Context, facultyID int64, resp bus.Response) error {
	action, err := ParseAction(resp.Action)
	if err != nil {
		return err
	}
	at := resp.At
	if at.IsZero() {
		at = time.Now()
	}

	c, err := e.db.ConsultationByID(ctx, resp.ConsultationID)
	if err != nil {
		return err
	}
	if c.FacultyID != facultyID {
		return fault.Newf(fault.Conflict, "consultation.wrong_desk",
			"consultation %d belongs to faculty %d", c.ID, c.FacultyID)
	}
	_, err = e.Apply(ctx, resp.ConsultationID, action, at)
	return err
}

// Apply advances one consultation along the state machine. A transition
// whose prior state no longer matches the durable row is rejected, never
// silently applied.
func (e *Engine) Apply(ctx context.Context, id int64, action Action, at time.Time) (*store.Consultation, error) {
	c, err := e.db.ConsultationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	to, err := next(c.Status, action)
	if err != nil {
		e.rejectTransition(ctx, c, action)
		return nil, err
	}

	err = e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := store.TransitionConsultation(ctx, tx, id, c.Status, to, at)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Newf(fault.Conflict, "consultation.state",
				"consultation %d moved out of state %q concurrently", id, c.Status)
		}
		return nil
	})
	if err != nil {
		if fault.IsKind(err, fault.Conflict) {
			metrics.ConsultationRejectsTotal.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	from := c.Status
	c.Status = to
	if from == store.StatusPending && c.RespondedAt == nil {
		c.RespondedAt = &at
	}
	if to.Terminal() {
		c.CompletedAt = &at
	}

	e.mu.Lock()
	if _, ok := e.inflight[id]; ok && from == store.StatusPending {
		delete(e.inflight, id)
		metrics.PendingDispatches.Set(float64(len(e.inflight)))
	}
	e.mu.Unlock()

	metrics.RecordTransition(string(from), string(to))
	e.logger.Info().
		Int64(log.FieldConsultID, id).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str("event", "consult.transition").Msg("consultation advanced")

	e.notify(c, from)
	return c, nil
}

// rejectTransition audits a refused edge; the durable row is untouched.
func (e *Engine) rejectTransition(ctx context.Context, c *store.Consultation, action Action) {
	reason := "illegal"
	if c.Status.Terminal() {
		reason = "terminal"
	}
	metrics.ConsultationRejectsTotal.WithLabelValues(reason).Inc()
	e.rec.Record(ctx, audit.Event{
		Type:      audit.EventConsultationMoved,
		ActorName: "desk",
		Action:    "transition refused by state machine",
		Resource:  "consultation/" + strconv.FormatInt(c.ID, 10),
		Outcome:   store.AuditWarning,
		Details: map[string]string{
			"state":  string(c.Status),
			"action": string(action),
		},
	})
}

// notify tells the desk unit and the broadcast topic about a lifecycle
// milestone. Best-effort, non-durable.
func (e *Engine) notify(c *store.Consultation, from store.ConsultationStatus) {
	n := bus.Notification{
		Kind: "consultation_" + string(c.Status),
		Text: "consultation " + strconv.FormatInt(c.ID, 10) + " is now " + string(c.Status),
		At:   time.Now(),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	e.pub.Publish(bus.MessagesTopic(c.FacultyID), payload, 1)
	e.pub.Publish(bus.SystemNotificationsTopic, payload, 0)
}
