package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopworks/hookgate/internal/logger"
)

// Server represents the daemon HTTP server
type Server struct {
	httpServer  *http.Server
	daemon      *Daemon
	handlers    *Handlers
	broadcaster *Broadcaster
	lifecycle   *Lifecycle
	port        int
}

// NewServer creates a new daemon server
func NewServer(d *Daemon) *Server {
	handlers := NewHandlers(d)
	broadcaster := NewBroadcaster(d.Store())
	lifecycle := NewLifecycle(d.Config().Daemon)

	port := d.Config().Daemon.Port
	if port == 0 {
		port = 7733
	}

	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("GET /health", handlers.Health)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions)
	mux.HandleFunc("GET /api/sessions/{id}", handlers.SessionTimeline)
	mux.HandleFunc("GET /api/recent", handlers.Recent)
	mux.HandleFunc("GET /api/rules", handlers.Rules)
	mux.HandleFunc("GET /api/stats", handlers.Stats)
	mux.HandleFunc("GET /api/export", handlers.Export)
	mux.HandleFunc("POST /api/dispatch", handlers.Dispatch)

	// SSE endpoint
	mux.HandleFunc("GET /sse/invocations", broadcaster.ServeHTTP)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           corsMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		daemon:      d,
		handlers:    handlers,
		broadcaster: broadcaster,
		lifecycle:   lifecycle,
		port:        port,
	}
}

// Run serves until the context is cancelled, then shuts down gracefully. It
// owns the PID file for the duration.
func (s *Server) Run(ctx context.Context) error {
	if err := s.lifecycle.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = s.lifecycle.RemovePID() }()

	logger.Info().
		Int("port", s.port).
		Str("url", fmt.Sprintf("http://127.0.0.1:%d", s.port)).
		Msg("Starting hookgate daemon")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return s.broadcaster.Run(ctx)
	})

	if s.daemon.Config().Daemon.WatchConfig {
		g.Go(func() error {
			return watchConfig(ctx, s.daemon)
		})
	}

	if schedule := s.daemon.Config().Daemon.RetentionSchedule; schedule != "" && s.daemon.Store() != nil {
		g.Go(func() error {
			return runRetention(ctx, s.daemon, schedule)
		})
	}

	err := g.Wait()

	logger.Info().Msg("Stopped hookgate daemon")
	return err
}

// Port returns the server port
func (s *Server) Port() int {
	return s.port
}

// Lifecycle returns the lifecycle manager
func (s *Server) Lifecycle() *Lifecycle {
	return s.lifecycle
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
