package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shipbox/internal/deploy"
	"shipbox/internal/history"
	"shipbox/internal/target"
)

const (
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	RequestTimeout = 60 * time.Second

	// Requests per minute.
	GlobalRateLimit  = 12
	WebhookRateLimit = 4
)

// Server receives GitHub push webhooks and drives deployments.
type Server struct {
	Registry     *target.Registry
	History      *history.History
	Orchestrator *deploy.Orchestrator
	Logger       *slog.Logger
	SourceDir    string
	TestMode     bool
	deployWg     sync.WaitGroup
}

// NewServer creates a server. In test mode the rate limiters and history
// store are disabled.
func NewServer(registry *target.Registry, hist *history.History, orch *deploy.Orchestrator, logger *slog.Logger, sourceDir string, testMode bool) *Server {
	return &Server{
		Registry:     registry,
		History:      hist,
		Orchestrator: orch,
		Logger:       logger,
		SourceDir:    sourceDir,
		TestMode:     testMode,
	}
}

// Router creates and configures the HTTP router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", req.Method,
					"path", req.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, req)
		})
	})

	if !s.TestMode {
		r.Use(RateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status/{targetName}", s.HandleStatus)

	if !s.TestMode {
		r.With(RateLimitMiddleware(WebhookRateLimit, s.Logger)).Post("/in/{targetName}", s.HandleWebhook)
	} else {
		r.Post("/in/{targetName}", s.HandleWebhook)
	}

	return r
}

// Start starts the HTTP server.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return server.ListenAndServe()
}

// WaitForDeployments blocks until all in-flight async runs finish.
// Primarily useful for tests.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown waits for in-flight runs, then closes the history store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deployWg.Wait()

	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
