package mqttclient

import (
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithClientID sets the MQTT client identifier
func WithClientID(id string) ClientOption {
	return func(c *Client) error {
		if id == "" {
			return stderrors.New("client id cannot be empty")
		}
		c.clientID = id
		return nil
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithKeepAlive sets the keepalive interval
func WithKeepAlive(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return stderrors.New("keepalive must be positive")
		}
		c.keepAlive = d
		return nil
	}
}

// WithConnectTimeout bounds a single connection attempt
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.connectTimeout = d
		return nil
	}
}

// WithAutoReconnect lets Paho re-establish a lost connection. Each
// successful reconnect invokes the OnConnect callback again.
func WithAutoReconnect(enabled bool, maxInterval time.Duration) ClientOption {
	return func(c *Client) error {
		c.autoReconnect = enabled
		if maxInterval > 0 {
			c.maxReconnect = maxInterval
		}
		return nil
	}
}

// WithRetry sets how initial connection attempts are retried
func WithRetry(rc errors.RetryConfig) ClientOption {
	return func(c *Client) error {
		if rc.MaxAttempts < 1 {
			rc.MaxAttempts = 1
		}
		c.retry = rc
		return nil
	}
}

// WithTLSConfig secures the broker connection. Use an ssl:// broker URL.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records upstream connection metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithMessageHandler sets the handler for every delivered message
func WithMessageHandler(fn MessageHandler) ClientOption {
	return func(c *Client) error {
		c.onMessage = fn
		return nil
	}
}

// WithOnConnect sets a callback run after every successful connect
func WithOnConnect(fn func()) ClientOption {
	return func(c *Client) error {
		c.onConnect = fn
		return nil
	}
}

// WithOnConnectionLost sets a callback run when the connection drops
func WithOnConnectionLost(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onConnectionLost = fn
		return nil
	}
}

// withFactory replaces the Paho constructor, for tests.
func withFactory(fn func(*mqtt.ClientOptions) mqtt.Client) ClientOption {
	return func(c *Client) error {
		c.factory = fn
		return nil
	}
}
