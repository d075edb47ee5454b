package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulse/internal/platform/health"
	"pulse/internal/platform/middleware"
)

// NewRouter wires all public endpoints with the standard middleware stack.
func NewRouter(analytics *AnalyticsHandler, consent *ConsentHandler, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	analytics.Register(r)
	consent.Register(r)
	healthHandler.Register(r)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
