// SPDX-License-Identifier: MIT

// Package api is the operational HTTP surface: health and readiness
// probes, Prometheus metrics, a status summary and the development-only
// scan simulation hook. It binds to loopback by default and carries no
// business endpoints; kiosks and desks speak MQTT.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consultease/central/internal/bus"
	"github.com/consultease/central/internal/health"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/presence"
	"github.com/consultease/central/internal/rfid"
	"github.com/consultease/central/internal/store"
	"github.com/consultease/central/internal/version"
)

// Deps are the components the ops surface reads from.
type Deps struct {
	DB       *store.Store
	Bus      *bus.Client
	Reader   *rfid.Reader
	Presence *presence.Tracker

	// Simulation enables the /dev/simulate-scan endpoint. It mirrors
	// rfid.simulation and is never true in production.
	Simulation bool
}

type server struct {
	deps    Deps
	hm      *health.Manager
	started time.Time
}

// New builds the ops router.
func New(deps Deps) http.Handler {
	s := &server{
		deps:    deps,
		hm:      health.NewManager(version.Version),
		started: time.Now(),
	}
	s.hm.RegisterChecker(health.NewStoreChecker(deps.DB))
	s.hm.RegisterChecker(health.NewBrokerChecker(deps.Bus))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.hm.ServeHealth)
	r.Get("/readyz", s.hm.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/status", s.handleStatus)

	if deps.Simulation {
		r.Route("/dev", func(r chi.Router) {
			r.Use(httprate.LimitByIP(30, time.Minute))
			r.Post("/simulate-scan", s.handleSimulateScan)
		})
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := log.WithComponent("api")
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("event", "api.request").Msg("request served")
	})
}

// statusResponse is the operator's one-look summary.
type statusResponse struct {
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	Broker  bus.Stats     `json:"broker"`
	Faculty []facultyView `json:"faculty"`
}

type facultyView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Present     bool   `json:"present"`
	GraceActive bool   `json:"grace_active"`
	SyncState   string `json:"sync_state"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Presence.Snapshot()
	out := statusResponse{
		Version: version.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Broker:  s.deps.Bus.Stats(),
		Faculty: make([]facultyView, 0, len(snap)),
	}
	for _, v := range snap {
		out.Faculty = append(out.Faculty, facultyView{
			ID:          v.FacultyID,
			Name:        v.Name,
			Present:     v.Present,
			GraceActive: v.GraceActive,
			SyncState:   string(v.SyncState),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type simulateScanRequest struct {
	UID string `json:"uid"`
}

// handleSimulateScan injects a card scan through the same path a
// hardware read takes. Development deployments only.
func (s *server) handleSimulateScan(w http.ResponseWriter, r *http.Request) {
	var req simulateScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	s.deps.Reader.Simulate(uid)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "uid": strings.ToUpper(uid)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).
			Str("event", "api.encode_error").Msg("response not encoded")
	}
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"error": http.StatusText(code), "detail": detail})
}
