package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves Prometheus metrics on a loopback-only listener. The
// metrics endpoint is not a public surface, so there is no ACL or TLS
// layer here. The listen address is always 127.0.0.1; only the port is
// configurable.
type Server struct {
	port   int
	path   string
	server *http.Server
	mu     sync.RWMutex // protects server field
	logger *slog.Logger
}

// NewServer creates a new metrics server.
func NewServer(port int, path string, log *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		port:   port,
		path:   path,
		logger: log,
	}
}

// Start starts the metrics server.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.Info("starting metrics server", "port", s.port, "path", s.path)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()

	if server == nil {
		return nil
	}

	s.logger.Info("stopping metrics server")
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to stop metrics server gracefully", "error", err)
		return err
	}

	s.logger.Info("metrics server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
