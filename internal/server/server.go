package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deployhook/internal/deployment"
	"deployhook/internal/history"
	"deployhook/internal/metrics"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// ShutdownTimeout bounds draining of open HTTP connections
	ShutdownTimeout = 10 * time.Second
)

// Dispatcher accepts deployment triggers without blocking.
type Dispatcher interface {
	Submit(deployment.Trigger) deployment.SubmitResult
	Pending() bool
	Busy() bool
	Active() *deployment.Run
}

// HistoryStore is the read side of the deployment history.
type HistoryStore interface {
	GetLatestDeployment(ctx context.Context) (*history.DeploymentRecord, error)
	GetDeploymentHistory(ctx context.Context, limit int) ([]history.DeploymentRecord, error)
	CountByOutcome(ctx context.Context) (map[string]int, error)
}

// Options configures a Server.
type Options struct {
	Secret      string
	ServiceName string
	Dispatcher  Dispatcher
	History     HistoryStore // optional
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// RateLimit is the per-IP webhook limit per minute. Zero disables it.
	RateLimit int
}

// Server represents the HTTP server
type Server struct {
	secret      string
	serviceName string
	dispatcher  Dispatcher
	history     HistoryStore
	metrics     *metrics.Metrics
	Logger      *slog.Logger
	rateLimit   int
}

// NewServer creates a new server instance
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		secret:      opts.Secret,
		serviceName: opts.ServiceName,
		dispatcher:  opts.Dispatcher,
		history:     opts.History,
		metrics:     opts.Metrics,
		Logger:      logger,
		rateLimit:   opts.RateLimit,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	// Routes
	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Only the webhook is rate limited; health probes must always answer.
	if s.rateLimit > 0 {
		r.With(NewWebhookRateLimitMiddleware(s.rateLimit, s.Logger, s.countWebhook)).Post("/webhook", s.HandleWebhook)
	} else {
		r.Post("/webhook", s.HandleWebhook)
	}

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) countWebhook(result string) {
	if s.metrics != nil {
		s.metrics.WebhookResult(result)
	}
}
