package api

import (
	"net/http"

	"imagehub/internal/health"
	"imagehub/internal/hub"
	"imagehub/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Hub           *hub.Hub
	HealthChecker *health.Checker
	Metrics       *observability.Metrics
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Hub, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes)
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Observer websocket endpoint
	mux.HandleFunc("GET /ws", handler.Connect)

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
