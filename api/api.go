// Package api provides the HTTP surface of a Spool engine: queue and job
// administration, export requests and artifact downloads.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/xraph/spool/engine"
)

// API wires all HTTP handlers together for a Spool engine.
type API struct {
	eng      *engine.Engine
	files    http.Handler
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithFiles mounts h under /files/. It is usually the filesystem artifact
// handler, which serves a file only while its export is live.
func WithFiles(h http.Handler) Option {
	return func(a *API) { a.files = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from a Spool engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:      eng,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all Spool routes into r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)

	r.Route("/v1/queues", func(r chi.Router) {
		r.Get("/", a.listQueues)
		r.Route("/{queue}", func(r chi.Router) {
			r.Get("/", a.getQueue)
			r.Post("/pause", a.pauseQueue)
			r.Post("/resume", a.resumeQueue)
			r.Post("/clean", a.cleanQueue)

			r.Get("/jobs", a.listJobs)
			r.Post("/jobs", a.enqueueJob)
			r.Get("/jobs/{jobID}", a.getJob)
			r.Post("/jobs/{jobID}/retry", a.retryJob)
		})
	})

	r.Route("/v1/exports", func(r chi.Router) {
		r.Post("/", a.createExport)
		r.Get("/", a.listExports)
		r.Get("/{exportID}", a.getExport)
	})

	if a.files != nil {
		r.Handle("/files/{filename}", a.files)
	}
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		a.logger.Debug("http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
