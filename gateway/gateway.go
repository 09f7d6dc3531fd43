package gateway

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/health"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/sparkplug"
)

// TagStore is the read-only cache view the query API serves.
type TagStore interface {
	Keys() []string
	Lookup(key string) (sparkplug.Value, bool)
}

// StreamHandler serves the WebSocket endpoint and closes its connections on
// shutdown.
type StreamHandler interface {
	http.Handler
	Close(ctx context.Context) error
}

// Config holds HTTP server settings
type Config struct {
	Addr              string        `yaml:"addr"`
	IndexPath         string        `yaml:"index_path"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// TLS serves HTTPS and WSS when set
	TLS *tls.Config `yaml:"-"`
}

// DefaultConfig returns the default server settings
func DefaultConfig() Config {
	return Config{
		Addr:              ":8000",
		IndexPath:         "index.html",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Deps are the collaborators the routes are wired to. Tags is required;
// routes whose dependency is nil are not registered.
type Deps struct {
	Tags     TagStore
	Stream   StreamHandler
	Metrics  *metric.MetricsRegistry
	Health   *health.Monitor
	Logger   *slog.Logger
	SystemID string
}

// Server serves the HTTP surface
type Server struct {
	cfg  Config
	deps Deps
	r    *gin.Engine
	srv  *http.Server

	logger *slog.Logger

	running   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	addr      atomic.Value // string
	requests  atomic.Uint64
}

// New creates a Server. It does not listen until Run.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Tags == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New", "tag store required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultConfig().ReadHeaderTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SystemID == "" {
		deps.SystemID = "sparkbridge"
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		r:      gin.New(),
		logger: deps.Logger.With("component", "gateway"),
		ready:  make(chan struct{}),
	}
	s.addr.Store("")

	s.r.Use(
		gin.Recovery(),
		s.requestID(),
		s.logRequests(),
		s.cors(),
	)
	initRouter(s)

	s.srv = &http.Server{
		Handler:           s.r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, empty before Ready.
func (s *Server) Addr() string {
	return s.addr.Load().(string)
}

// Running reports whether Run is serving
func (s *Server) Running() bool {
	return s.running.Load()
}

// Requests returns the number of requests served
func (s *Server) Requests() uint64 {
	return s.requests.Load()
}

// Run listens and serves until ctx is done, then shuts down gracefully,
// closing WebSocket connections as part of the shutdown. Run may be called
// once.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Run", "start server")
	}
	defer s.running.Store(false)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Run", "listen on "+s.cfg.Addr)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	s.addr.Store(ln.Addr().String())
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapFatal(err, "Gateway", "Run", "serve")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server
	if s.deps.Stream != nil {
		if err := s.deps.Stream.Close(shutdownCtx); err != nil {
			s.logger.Warn("WebSocket shutdown incomplete", "error", err)
		}
	}
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}
	<-serveErr

	s.logger.Info("HTTP server stopped", "requests", s.requests.Load())
	return nil
}
