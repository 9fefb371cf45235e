// Package api provides the HTTP surface of rehab-flow: starting runs,
// inspecting stored runs and streaming workflow events.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
)

// Runner executes one workflow run.
type Runner interface {
	Run(ctx context.Context, req workflow.RunRequest) (*core.RunResult, error)
}

// Server provides the HTTP API.
type Server struct {
	router  chi.Router
	runner  Runner
	store   core.RunStore
	bus     *events.Bus
	logger  *logging.Logger
	origins []string
	slots   *semaphore.Weighted

	// baseCtx outlives requests so that accepted runs finish after the
	// client disconnects.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[core.RunID]time.Time

	newRunID func() core.RunID
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCORSOrigins sets the origins allowed to call the API from a browser.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithMaxConcurrentRuns bounds how many runs execute at once. Requests
// beyond the bound are rejected with 429.
func WithMaxConcurrentRuns(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewServer creates a new API server. store and bus may be nil; the
// endpoints that need them then answer 503.
func NewServer(runner Runner, store core.RunStore, bus *events.Bus, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:   runner,
		store:    store,
		bus:      bus,
		logger:   logging.NewNop(),
		slots:    semaphore.NewWeighted(4),
		baseCtx:  ctx,
		cancel:   cancel,
		active:   make(map[core.RunID]time.Time),
		newRunID: func() core.RunID { return core.RunID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			// Waiting runs span several model calls, so only reads get a deadline.
			r.Post("/", s.handleCreateRun)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/", s.handleListRuns)
				r.Get("/{runID}", s.handleGetRun)
			})
		})
		r.Get("/events", s.handleSSE)
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := len(s.active)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"running_runs": running,
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down and waits
// for accepted runs to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		<-done
		err = nil
	}
	s.Close()
	return err
}

// Close cancels any accepted runs between stages and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
