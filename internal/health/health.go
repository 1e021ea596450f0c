// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for the ops
// surface: Docker HEALTHCHECK, Kubernetes probes and the selfcheck
// subcommand share the same checkers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/consultease/central/internal/log"
)

// Status is the overall verdict of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                           { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// informational wraps a checker so its failures degrade readiness
// instead of failing it.
type informational struct{ inner Checker }

// Informational downgrades a checker: unhealthy becomes degraded.
func Informational(c Checker) Checker { return informational{inner: c} }

func (c informational) Name() string { return c.inner.Name() }

func (c informational) Check(ctx context.Context) CheckResult {
	res := c.inner.Check(ctx)
	if res.Status == StatusUnhealthy {
		res.Status = StatusDegraded
	}
	return res
}

// Manager aggregates registered checkers into liveness and readiness
// verdicts.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a manager stamped with the build version.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component probe.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Health is the liveness verdict: the process is alive, component detail
// is included only when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if !verbose || len(m.checkers) == 0 {
		return resp
	}
	resp.Checks = make(map[string]CheckResult)
	resp.Status = m.run(ctx, resp.Checks)
	return resp
}

// Ready is the readiness verdict: any unhealthy component fails it.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks = make(map[string]CheckResult)
	resp.Status = m.run(ctx, resp.Checks)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

func (m *Manager) run(ctx context.Context, out map[string]CheckResult) Status {
	status := StatusHealthy
	for _, c := range m.checkers {
		res := c.Check(ctx)
		out[c.Name()] = res
		switch res.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return status
}

// ServeHealth handles the liveness endpoint. Always 200: a process that
// can answer is alive.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("health response not encoded")
	}
}

// ServeReady handles the readiness endpoint: 503 while any component is
// unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("readiness response not encoded")
	}
}

// Pinger is the slice of the store the database checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the database with a bounded ping.
type StoreChecker struct {
	db Pinger
}

// NewStoreChecker builds the database probe.
func NewStoreChecker(db Pinger) *StoreChecker {
	return &StoreChecker{db: db}
}

func (c *StoreChecker) Name() string { return "store" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.db.Ping(pingCtx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "database reachable"}
}

// BrokerStatus is the slice of the bus client the broker checker needs.
type BrokerStatus interface {
	Connected() bool
}

// BrokerChecker reports the broker link state. A disconnected broker
// degrades the system (the spool buffers outbound traffic) rather than
// failing readiness outright.
type BrokerChecker struct {
	bus BrokerStatus
}

// NewBrokerChecker builds the broker probe.
func NewBrokerChecker(bus BrokerStatus) *BrokerChecker {
	return &BrokerChecker{bus: bus}
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(context.Context) CheckResult {
	if !c.bus.Connected() {
		return CheckResult{Status: StatusDegraded, Message: "broker disconnected, spooling"}
	}
	return CheckResult{Status: StatusHealthy, Message: "broker connected"}
}
