// Package server exposes the directory, review queue and batch uploads
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/monitoring"
	"github.com/sells-group/provider-verify/internal/pipeline"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/review"
	"github.com/sells-group/provider-verify/internal/store"
)

// DefaultMaxUploadBytes caps the size of a batch upload body.
const DefaultMaxUploadBytes = 32 << 20

// Deps are the services the API is built on. Pipeline and Breakers may be
// nil; uploads are then refused and health omits source states.
type Deps struct {
	Store    store.Store
	Review   *review.Manager
	Pipeline *pipeline.Pipeline
	Matcher  *match.Matcher
	Breakers *resilience.Breakers
}

// Options tune the HTTP layer.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server is the HTTP API.
type Server struct {
	deps    Deps
	opts    Options
	metrics *monitoring.Collector
	router  chi.Router
}

// New builds the router.
func New(deps Deps, opts Options) *Server {
	if deps.Matcher == nil {
		deps.Matcher = match.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{deps: deps, opts: opts, metrics: monitoring.NewCollector(deps.Store, deps.Breakers)}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Get("/{id}", s.handleGetProvider)
		r.Get("/{id}/history", s.handleHistory)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", s.handleQueue)
		r.Get("/export", s.handleQueueExport)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
	})

	r.Get("/stats", s.handleStats)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/batches", func(r chi.Router) {
		r.Get("/", s.handleListBatches)
		r.Post("/", s.handleUpload)
		r.Get("/{id}", s.handleGetBatch)
	})
	return r
}

// ListenAndServe serves on port until ctx ends, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
