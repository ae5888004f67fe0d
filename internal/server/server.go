// Package server exposes the task queue and the synchronous analysis path over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultRequestTimeout bounds a request, including synchronous analyses.
const DefaultRequestTimeout = 10 * time.Minute

type Server struct {
	Router *chi.Mux
	logger *slog.Logger

	tasks     TaskQueue
	analyzer  ClipAnalyzer
	followUp  FollowUp
	outputDir string
	timeout   time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOutputDir serves rendered artifacts from dir under /output/.
func WithOutputDir(dir string) Option {
	return func(s *Server) {
		s.outputDir = dir
	}
}

// WithFollowUp enables POST /v1/chat.
func WithFollowUp(f FollowUp) Option {
	return func(s *Server) {
		s.followUp = f
	}
}

func New(logger *slog.Logger, tasks TaskQueue, analyzer ClipAnalyzer, opts ...Option) *Server {
	s := &Server{
		logger:   logger,
		tasks:    tasks,
		analyzer: analyzer,
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(s.timeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "offside-zero")
	})

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmit)
		r.Get("/tasks", s.handleList)
		r.Get("/tasks/{id}", s.handleStatus)
		r.Post("/analyze", s.handleAnalyze)
		if s.followUp != nil {
			r.Post("/chat", s.handleChat)
		}
	})
	if s.outputDir != "" {
		r.Handle(outputPrefix+"*", http.StripPrefix(outputPrefix, http.FileServer(http.Dir(s.outputDir))))
	}

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
