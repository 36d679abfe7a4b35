// Package app wires application components and startup helpers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces; an empty or "*" input means allow-all.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes
// (§6's external interfaces plus the ambient health/metrics surface §10.1).
func BuildRouter(cfg config.Config, srv *httpserver.Server, readyz http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Use(httpserver.TimeoutMiddleware(100 * time.Second))
		wr.Post("/inspect/fault_desc", srv.FaultDescHandler())
		wr.Post("/inspect/analyze_desc", srv.AnalyzeDescHandler())
		wr.Post("/recon/jobs", srv.ReconJobsHandler())
	})

	r.Get("/inspect/health", srv.InspectHealthHandler())
	r.Get("/recon/jobs/{product_id}/status", srv.ReconStatusHandler())
	r.Get("/recon/queue", srv.ReconQueueHandler())
	r.Get("/recon/pub/{product_id}/cloud.ply", srv.ReconPLYHandler())
	r.Get("/v/{product_id}", srv.ViewerHandler())
	r.Get("/v/rotate/{product_id}", srv.ViewerRotateHandler())

	r.Get("/readyz", readyz)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}
