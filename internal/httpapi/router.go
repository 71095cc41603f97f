// Package httpapi exposes the session controller as a JSON API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tatianab/storyloom/internal/session"
)

type Config struct {
	Controller *session.Controller
	// Registry is served on /metrics when set.
	Registry       *prometheus.Registry
	AllowedOrigins []string
	Log            zerolog.Logger
}

// New builds the router.
func New(cfg Config) http.Handler {
	h := &handler{ctrl: cfg.Controller, log: cfg.Log}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.view)
			r.Post("/", h.start)
			r.Delete("/", h.quit)
			r.Post("/choice", h.choose)
			r.Post("/custom", h.custom)
			r.Post("/retry", h.retry)
		})
		r.Post("/world", h.world)
		r.Get("/provider", h.provider)
		r.Put("/provider", h.setProvider)
		r.Route("/saves", func(r chi.Router) {
			r.Get("/", h.listSaves)
			r.Post("/", h.save)
			r.Put("/{id}", h.overwrite)
			r.Post("/{id}/load", h.load)
			r.Delete("/{id}", h.deleteSave)
		})
		r.Route("/inventory/{id}", func(r chi.Router) {
			r.Post("/favorite", h.toggleFavorite)
			r.Post("/discard", h.toggleDiscard)
		})
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
