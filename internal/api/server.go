// Package api exposes the pipeline over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/logging"
	"github.com/efebarandurmaz/repolens/internal/server"
)

// DefaultRequestTimeout bounds a request when RouterConfig leaves it unset.
const DefaultRequestTimeout = 5 * time.Minute

// RouterConfig holds what the router serves besides the pipeline.
type RouterConfig struct {
	Health  *server.HealthServer
	Metrics http.Handler
	Version string
	Timeout time.Duration
	Log     *zap.Logger
}

// SetupRouter creates and configures the HTTP router.
func SetupRouter(h *Handler, cfg RouterConfig) http.Handler {
	log := logging.OrNop(cfg.Log)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(Logger(log))

	r.Get("/", h.Info(cfg.Version))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HandleHealth)
		r.Get("/live", cfg.Health.HandleLive)
		r.Get("/ready", cfg.Health.HandleReady)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))
		RegisterRoutes(r, h)
	})

	return r
}

// RegisterRoutes mounts the pipeline endpoints.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/analyze", h.Analyze)
	r.Post("/query", h.Query)
	r.Post("/analyze-and-query", h.AnalyzeAndQuery)
	r.Get("/status", h.Status)
}
