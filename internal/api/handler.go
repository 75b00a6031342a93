// Package api provides the HTTP surface of the coordination server: the
// websocket endpoint observers connect to, plus health probes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"imagehub/internal/health"
	"imagehub/internal/hub"
)

// Handler contains the HTTP handlers.
type Handler struct {
	hub    *hub.Hub
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(h *hub.Hub, checker *health.Checker) *Handler {
	return &Handler{
		hub:    h,
		health: checker,
	}
}

// Connect handles GET /ws - upgrades the request to a websocket observer
// connection. The connection lives until the client disconnects.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 while the image store is reachable (degraded telemetry still
// counts as ready); 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
