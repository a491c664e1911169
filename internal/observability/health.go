package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// HealthChecker is anything with a liveness probe; pgxpool.Pool satisfies
// it directly.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness endpoints. Liveness is
// unconditional; readiness gates on startup completion and on the event
// store answering a ping, since the pipeline cannot accept triggers
// without it.
type HealthHandler struct {
	db    HealthChecker
	ready atomic.Bool
}

func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db}
}

// SetReady flips the readiness gate: true once the worker pool, poller,
// and consumer are running, false again during shutdown.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"app": "ok"}
	degraded := false

	if !h.ready.Load() {
		checks["app"] = "not ready"
		degraded = true
	}

	if h.db != nil {
		checks["database"] = "ok"
		if err := h.db.Ping(r.Context()); err != nil {
			checks["database"] = err.Error()
			degraded = true
		}
	}

	resp := ReadyResponse{Status: "ok", Checks: checks}
	code := http.StatusOK
	if degraded {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
