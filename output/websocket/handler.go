package websocket

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/fanout"
	"github.com/c360/sparkbridge/metric"
)

// Defaults for connection keepalive
const (
	DefaultPingInterval = 30 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Registrar is the part of the broadcaster the handler uses.
type Registrar interface {
	Register(ctx context.Context, s fanout.Subscriber) error
	Unregister(ctx context.Context, id string) error
}

// Config holds handler settings
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
}

// DefaultConfig returns the default handler settings
func DefaultConfig() Config {
	return Config{
		PingInterval: DefaultPingInterval,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Handler upgrades HTTP requests and serves them as broadcaster subscribers.
type Handler struct {
	registrar Registrar
	cfg       Config
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
	wg      sync.WaitGroup
}

// NewHandler creates a Handler registering clients with registrar.
func NewHandler(registrar Registrar, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Handler, error) {
	if registrar == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "websocket.Handler", "NewHandler", "registrar required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		registrar: registrar,
		cfg:       cfg,
		logger:    logger.With("component", "websocket"),
		metrics:   metrics,
		clients:   make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		h.metrics.recordError("connection_upgrade")
		return
	}

	client := newClient(uuid.NewString(), conn, h.cfg.WriteTimeout, h.metrics)
	if !h.track(client) {
		_ = client.Close()
		return
	}
	defer h.untrack(client)

	h.logger.Info("Client connected", "client", client.ID(), "remote", client.RemoteAddr())

	if err := h.registrar.Register(r.Context(), client); err != nil {
		_ = client.Close()
		h.logger.Warn("Client registration failed", "client", client.ID(), "error", err)
		h.recordDisconnect("register_failed")
		return
	}

	reason := h.serve(client)

	unregCtx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
	defer cancel()
	if err := h.registrar.Unregister(unregCtx, client.ID()); err != nil &&
		!stderrors.Is(err, errors.ErrKeyNotFound) && !stderrors.Is(err, errors.ErrShuttingDown) {
		h.logger.Warn("Client unregister failed", "client", client.ID(), "error", err)
	}
	_ = client.Close()

	h.recordDisconnect(reason)
	h.logger.Info("Client disconnected", "client", client.ID(), "reason", reason,
		"messages_sent", client.MessagesSent(), "duration", time.Since(client.connectedAt))
}

// serve runs the read loop and the ping loop. It returns the disconnect
// reason once the connection is no longer usable.
func (h *Handler) serve(c *Client) string {
	conn := c.conn
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	stopPing := make(chan struct{})
	var pingWG sync.WaitGroup
	pingWG.Add(1)
	go func() {
		defer pingWG.Done()
		h.pingLoop(c, stopPing)
	}()
	defer func() {
		close(stopPing)
		pingWG.Wait()
	}()

	for {
		// Inbound frames carry nothing for us
		if _, _, err := conn.ReadMessage(); err != nil {
			switch {
			case c.closed.Load():
				return "server_closed"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				return "client_closed"
			default:
				h.metrics.recordError("read")
				return "read_error"
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
}

func (h *Handler) pingLoop(c *Client, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				h.metrics.recordError("ping")
				h.logger.Debug("Ping failed", "client", c.ID(), "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

func (h *Handler) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ID()] = c
	h.wg.Add(1)
	if h.metrics != nil {
		h.metrics.connectionTotal.Inc()
		h.metrics.clientsConnected.Set(float64(len(h.clients)))
	}
	return true
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID())
	if h.metrics != nil {
		h.metrics.clientsConnected.Set(float64(len(h.clients)))
	}
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) recordDisconnect(reason string) {
	if h.metrics != nil {
		h.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
	}
}

// ClientCount returns the number of open connections
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close closes every open connection, refuses new ones and waits for the
// serving goroutines to return or ctx to end.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "websocket.Handler", "Close", "wait for clients")
	}
}
