// Package api exposes the sensor network over HTTP.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/health"
	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/service"
)

// Config controls the HTTP listener.
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxRequestSize: 1 << 20,
	}
}

// Option is a functional option for configuring Server
type Option func(*Server)

// WithLogger sets a custom logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMonitor reports the given monitor on /health. The store check is
// registered on it.
func WithMonitor(m *health.Monitor) Option {
	return func(s *Server) {
		if m != nil {
			s.monitor = m
		}
	}
}

// Server serves the HTTP surface.
type Server struct {
	config  Config
	svc     *service.Service
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor
	routes  []route

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a Server for svc.
func NewServer(cfg Config, svc *service.Service, opts ...Option) *Server {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	s := &Server{
		config:  cfg,
		svc:     svc,
		logger:  slog.Default().With("component", "api"),
		monitor: health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.monitor.Register("store", svc.Ping)
	s.routes = s.routeTable()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	for _, rt := range s.routes {
		r.Method(rt.method, rt.path, rt.handler)
	}
	r.Get("/health", s.health)
	r.Get("/openapi.json", s.openAPI)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
	})
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "http server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.config.Address)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "error", err)
			s.monitor.UpdateUnhealthy("http", err.Error())
		}
	}()
	s.monitor.UpdateHealthy("http", "listening")
	s.logger.Info("http server listening", "address", listener.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.monitor.UpdateDegraded("http", "draining")
	if err := srv.Shutdown(ctx); err != nil {
		s.monitor.UpdateUnhealthy("http", "shutdown incomplete")
		return errors.Wrap(err, "Server", "Stop", "shutdown")
	}
	s.monitor.UpdateUnhealthy("http", "stopped")
	return nil
}

// Address returns the bound address once started.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.config.Address
	}
	return s.listener.Addr().String()
}
