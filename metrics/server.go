package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the metrics and readiness endpoint.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9090". ":0" picks a free port.
	Addr string

	// Gatherer is exposed on /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Ready backs /readyz; a non-nil error reports not ready (optional).
	Ready func(ctx context.Context) error

	// ReadHeaderTimeout bounds slow clients (default: 5s).
	ReadHeaderTimeout time.Duration

	// Logger is for observability (optional).
	Logger es.Logger
}

// Server exposes /metrics and /readyz.
// Use this only if your application does not already expose metrics.
type Server struct {
	config   ServerConfig
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	s := &Server{config: cfg}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/readyz", s.readyz)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Start binds the listen address and serves in a goroutine.
// A bind failure is returned directly; later serve errors are logged.
func (s *Server) Start() error {
	if s.listener != nil {
		return errors.New("metrics server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.config.Logger != nil {
				s.config.Logger.Error(context.Background(), "metrics server failed", "addr", s.Addr(), "error", err)
			}
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server. It is a no-op if the server was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.config.Ready != nil {
		if err := s.config.Ready(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}
