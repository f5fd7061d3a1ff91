// Package health serves the liveness and readiness probes.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz runs every registered [Checker] and answers 200 only when all
//     of them pass, so a playthrough is not offered before the credentials,
//     the assets, and the event loop are in place.
//
// Responses are JSON objects with a "status" of "ok" or "fail" and, for
// /readyz, a "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

// Checker is one named readiness condition. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Func adapts a context-free check, such as a static startup result.
func Func(name string, fn func() error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return fn() }}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under its own timeout, and
// answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
