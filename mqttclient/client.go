package mqttclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
)

// ConnectionStatus represents the state of the upstream connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Subscribe and Publish without a live connection.
var ErrNotConnected = stderrors.New("not connected to MQTT broker")

// MessageHandler receives every message delivered on any subscription.
type MessageHandler func(topic string, payload []byte)

// BrokerURL builds a tcp:// broker address, or ssl:// when secure.
func BrokerURL(host string, port int, secure bool) string {
	scheme := "tcp://"
	if secure {
		scheme = "ssl://"
	}
	return scheme + net.JoinHostPort(host, strconv.Itoa(port))
}

// Client manages one MQTT session
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	// Session options
	clientID       string
	username       string
	password       string // cleared on close
	keepAlive      time.Duration
	connectTimeout time.Duration
	autoReconnect  bool
	maxReconnect   time.Duration
	quiesce        uint
	retry          errors.RetryConfig

	// Callbacks
	onMessage        MessageHandler
	onConnect        func()
	onConnectionLost func(error)

	metrics *metric.Metrics
	tlsConfig *tls.Config
	factory   func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.RWMutex
	conn   mqtt.Client
	lost   chan error
	closed atomic.Bool
}

// NewClient creates a client for the broker at url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "broker url required")
	}

	c := &Client{
		url:            url,
		logger:         slog.Default(),
		clientID:       "sparkbridge",
		keepAlive:      60 * time.Second,
		connectTimeout: 10 * time.Second,
		maxReconnect:   time.Minute,
		quiesce:        250,
		retry:          errors.DefaultRetryConfig(),
		factory:        mqtt.NewClient,
		lost:           make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "mqtt")
	c.status.Store(StatusDisconnected)

	return c, nil
}

// URL returns the broker address
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

// IsHealthy returns true if the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Lost receives the terminal error when the connection drops and
// auto-reconnect is disabled. It fires at most once.
func (c *Client) Lost() <-chan error {
	return c.lost
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
}

func (c *Client) buildOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.url).
		SetClientID(c.clientID).
		SetKeepAlive(c.keepAlive).
		SetConnectTimeout(c.connectTimeout).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(c.autoReconnect).
		SetMaxReconnectInterval(c.maxReconnect).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetReconnectingHandler(c.handleReconnecting).
		SetDefaultPublishHandler(c.handleMessage)

	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}
	return opts
}

// Connect establishes the session, retrying transient failures per the
// configured RetryConfig. Exhausting the attempts is fatal.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Client", "Connect", "connect closed client")
	}

	c.logger.Info("Connecting to MQTT broker", "url", c.url, "client_id", c.clientID,
		"username", c.username, "keepalive", c.keepAlive, "auto_reconnect", c.autoReconnect)

	err := errors.Retry(ctx, c.retry, func() error {
		return c.connectOnce(ctx)
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "establish connection")
	}
	return nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	// Stored before connecting: Paho may run OnConnect, and with it the
	// first Subscribe, before the connect token completes.
	conn := c.factory(c.buildOptions())
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := waitToken(ctx, conn.Connect()); err != nil {
		c.logger.Warn("MQTT connect attempt failed", "url", c.url, "error", err)
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnection, err), "Client", "Connect", "connect attempt")
	}
	return nil
}

// Subscribe subscribes to pattern and waits for the broker's SUBACK.
// Messages are delivered to the client's MessageHandler.
func (c *Client) Subscribe(ctx context.Context, pattern string, qos byte) error {
	conn, err := c.connection()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+pattern)
	}
	if err := waitToken(ctx, conn.Subscribe(pattern, qos, nil)); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscribe, err), "Client", "Subscribe", "subscribe "+pattern)
	}
	return nil
}

// Publish sends payload to topic and waits until the client has handed it
// to the network (QoS 0) or the broker acknowledged it (QoS 1 and 2).
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	conn, err := c.connection()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+topic)
	}
	if err := waitToken(ctx, conn.Publish(topic, qos, retained, payload)); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPublish, err), "Client", "Publish", "publish "+topic)
	}
	return nil
}

func (c *Client) connection() (mqtt.Client, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnectionOpen() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Close disconnects from the broker. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.password = ""
	c.mu.Unlock()

	c.setStatus(StatusClosed)
	if conn == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		conn.Disconnect(c.quiesce)
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Disconnected from MQTT broker", "url", c.url)
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "disconnect")
	}
}

// Paho callbacks. They run on Paho goroutines.

func (c *Client) handleConnect(_ mqtt.Client) {
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to MQTT broker", "url", c.url)
	if c.metrics != nil {
		c.metrics.RecordUpstreamStatus(true)
	}
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamStatus(false)
	}
	if c.onConnectionLost != nil {
		c.onConnectionLost(err)
	}

	if c.autoReconnect && !c.closed.Load() {
		c.setStatus(StatusReconnecting)
		c.logger.Warn("MQTT connection lost; reconnecting", "url", c.url, "error", err)
		return
	}

	c.setStatus(StatusDisconnected)
	c.logger.Error("MQTT connection lost", "url", c.url, "error", err)
	select {
	case c.lost <- errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err), "Client", "handleConnectionLost", "upstream session"):
	default:
	}
}

func (c *Client) handleReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.setStatus(StatusReconnecting)
	c.logger.Debug("Attempting MQTT reconnect", "url", c.url)
}

func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if c.onMessage == nil {
		return
	}
	c.onMessage(msg.Topic(), msg.Payload())
}

// waitToken waits for a Paho token or ctx.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
