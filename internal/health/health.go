// Package health serves the liveness and readiness probes.
//
// Two endpoints are exposed. GET /healthz reports liveness and always
// answers 200 so the orchestrator never kills a process that can still
// serve HTTP. GET /readyz reports readiness: 200 only when every registered
// [Checker] passes and the handler is not draining.
//
// Bodies are JSON with a top-level "status" ("ok", "fail", or "draining")
// and a "checks" map holding each named checker's outcome. During shutdown
// the app marks the handler draining so the load balancer stops routing new
// calls while live ones finish.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync/atomic"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and an error describing the failure otherwise; it must respect
// context cancellation. Name keys the outcome in the JSON response, e.g.
// "database" or "telephony".
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; the draining flag may be flipped at any time.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// SetDraining flips the handler in or out of the draining state. While
// draining, /readyz answers 503 without running any checkers; /healthz keeps
// answering 200 so the process is not killed mid-call.
func (h *Handler) SetDraining(on bool) {
	h.draining.Store(on)
}

// Healthz always answers 200. A running process that can serve HTTP is
// alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 503 while draining, otherwise 200 exactly when every
// checker passes. Each check runs under a [checkTimeout] deadline derived
// from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	checks, healthy := h.runChecks(r.Context())
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "fail", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, result{Status: "ok", Checks: checks})
}

// runChecks evaluates every checker sequentially and reports the combined
// outcome.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	healthy := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			healthy = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, healthy
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Pinger is the slice of a connection pool the database checker needs.
// *pgxpool.Pool and *postgres.Store satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a checker that pings the store's connection pool.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// writeJSON writes v with the given status code. The status line is already
// on the wire if encoding fails, so the error is dropped.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
