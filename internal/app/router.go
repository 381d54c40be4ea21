// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/arkrank/internal/adapter/httpserver"
	"github.com/fairyhunter13/arkrank/internal/adapter/observability"
	"github.com/fairyhunter13/arkrank/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// parseMethods splits a comma-separated method list, defaulting to the
// JSON API's usual set when empty.
func parseMethods(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"GET", "POST", "OPTIONS"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and the
// ranking engine's JSON routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(time.Duration(cfg.HTTPRequestTimeout) * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   parseMethods(cfg.CORSAllowMethods),
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))

		wr.Post("/topic/list", srv.TopicListHandler())
		wr.Post("/topic/create", srv.TopicCreateHandler())
		wr.Post("/topic/info", srv.TopicInfoHandler())
		wr.Post("/topic/candidate_pool", srv.TopicCandidatePoolHandler())

		wr.Post("/ballot/new", srv.BallotNewHandler())
		wr.Post("/ballot/save", srv.BallotSaveHandler())
		wr.Post("/ballot/skip", srv.BallotSkipHandler())

		wr.Post("/results/final_order", srv.ResultsFinalOrderHandler())
		wr.Post("/results/1v1_matrix", srv.Results1v1MatrixHandler())

		wr.Post("/audit/topic", srv.AuditTopicHandler())
		wr.Post("/audit/need_audit_topics", srv.AuditNeedAuditTopicsHandler())
	})

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}
