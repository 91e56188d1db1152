// Package api is the HTTP surface of the minutes engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	"github.com/otherjamesbrown/minutes/pkg/buildinfo"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/pipeline"
)

// Service is the job lifecycle the API exposes. *pipeline.Orchestrator implements it.
type Service interface {
	Create(ctx context.Context, userID string, files []minutes.FileInfo, cfg minutes.ProcessingConfig) (*minutes.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*minutes.Job, error)
	Logs(ctx context.Context, id uuid.UUID, limit int) ([]minutes.JobLog, error)
	SubmitReview(ctx context.Context, sub pipeline.Submission) (*minutes.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*minutes.Job, error)
	Retry(ctx context.Context, id uuid.UUID) (*minutes.Job, error)
}

var _ Service = (*pipeline.Orchestrator)(nil)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// DefaultMaxUploadBytes bounds multipart uploads.
const DefaultMaxUploadBytes = 512 << 20

// Server holds the API dependencies.
type Server struct {
	svc            Service
	blobs          blob.Store
	logger         logging.Logger
	checks         map[string]HealthCheck
	metrics        http.Handler
	blobHandler    http.Handler
	serviceName    string
	maxUploadBytes int64
	requestTimeout time.Duration
	now            func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithBlobHandler mounts h at /blobs/.
func WithBlobHandler(h http.Handler) Option {
	return func(s *Server) { s.blobHandler = h }
}

// WithMaxUploadBytes bounds multipart uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// NewServer builds a Server.
func NewServer(svc Service, blobs blob.Store, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		blobs:          blobs,
		logger:         logging.NewNopLogger(),
		checks:         make(map[string]HealthCheck),
		serviceName:    "minutes",
		maxUploadBytes: DefaultMaxUploadBytes,
		requestTimeout: 60 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "api"))
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", buildinfo.Handler(s.serviceName))
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.blobHandler != nil {
		r.Handle("/blobs/*", s.blobHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Post("/uploads", s.handleUpload)
		r.Post("/jobs", s.handleCreateJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/logs", s.handleLogs)
			r.Post("/review", s.handleReview)
			r.Post("/cancel", s.handleCancel)
			r.Post("/retry", s.handleRetry)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

// requestLog logs one line per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqID := middleware.GetReqID(r.Context())
		ctx := logging.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logging.Field{
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", status),
			logging.F("bytes", ww.BytesWritten()),
			logging.F("duration_ms", time.Since(start).Milliseconds()),
		}
		log := s.logger.WithContext(ctx)
		if status >= http.StatusInternalServerError {
			log.Error("HTTP request", fields...)
		} else {
			log.Debug("HTTP request", fields...)
		}
	})
}
