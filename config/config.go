package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/pkg/buffer"
	"github.com/c360/sparkbridge/pkg/security"
	"github.com/c360/sparkbridge/rebirth"
)

// Config represents the complete application configuration
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Sparkplug SparkplugConfig `yaml:"sparkplug"`
	Rebirth   RebirthConfig   `yaml:"rebirth"`
	Queue     QueueConfig     `yaml:"queue"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

// MQTTConfig defines the upstream broker session
type MQTTConfig struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	Username             string        `yaml:"username"`
	Password             string        `yaml:"password"`
	ClientID             string        `yaml:"client_id"`
	KeepAlive            time.Duration `yaml:"keep_alive"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ConnectAttempts      int           `yaml:"connect_attempts"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`

	TLS security.ClientTLSConfig `yaml:"tls"`
}

// SparkplugConfig selects what is subscribed to and extracted
type SparkplugConfig struct {
	Namespace       string   `yaml:"namespace"`
	Machines        []string `yaml:"machines"`
	NodeCommandEdge string   `yaml:"node_command_edge"`
	DeviceCommandID string   `yaml:"device_command_id"`
	TemplateMetric  string   `yaml:"template_metric"`
	AllowList       []string `yaml:"allow_list"`
	IgnoreSegment   string   `yaml:"ignore_segment"`
}

// RebirthConfig tunes the rebirth handshake
type RebirthConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// QueueConfig sizes the handoff queue. Capacity 0 is unbounded.
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

// FanoutConfig tunes subscriber delivery
type FanoutConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HTTPConfig defines the HTTP surface
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	IndexPath       string        `yaml:"index_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TLS security.ServerTLSConfig `yaml:"tls"`
}

// WebSocketConfig tunes subscriber connections
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// NATSConfig enables the optional relay. The relay runs only when URL is set.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	JSON     bool   `yaml:"json"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`

	// Reconnects are unlimited; updates published while disconnected are
	// lost and the relay is re-registered once the connection returns.
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	PingInterval  time.Duration `yaml:"ping_interval"`

	TLS security.ClientTLSConfig `yaml:"tls"`
}

// Enabled reports whether the NATS relay is configured
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// LogConfig selects log output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Host:                 "10.2.25.11",
			Port:                 1883,
			Username:             "mes",
			Password:             "mes",
			ClientID:             "sparkbridge",
			KeepAlive:            60 * time.Second,
			ConnectTimeout:       10 * time.Second,
			ConnectAttempts:      1,
			AutoReconnect:        false,
			MaxReconnectInterval: time.Minute,
		},
		Sparkplug: SparkplugConfig{
			Namespace:       "spBv1.0",
			Machines:        []string{"Injection-E3"},
			NodeCommandEdge: "MES",
			DeviceCommandID: "IMM",
			TemplateMetric:  "immOperatorInterface",
			AllowList:       []string{"oeePerformance", "oeeAvailability", "oeeQuality", "oee", "status"},
			IgnoreSegment:   "RIO",
		},
		Rebirth: RebirthConfig{
			SettleDelay: 1500 * time.Millisecond,
		},
		Queue: QueueConfig{
			Capacity: 4096,
			Overflow: buffer.DropOldest.String(),
		},
		Fanout: FanoutConfig{
			WriteTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:            ":8000",
			IndexPath:       "index.html",
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
		},
		NATS: NATSConfig{
			Subject:       "sparkbridge.updates",
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration and normalizes list values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MQTT.Host) == "" {
		return invalid("mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return invalid(fmt.Sprintf("mqtt.port out of range: %d", c.MQTT.Port))
	}
	if c.MQTT.ClientID == "" {
		return invalid("mqtt.client_id is required")
	}
	if c.MQTT.KeepAlive <= 0 {
		return invalid("mqtt.keep_alive must be positive")
	}
	if c.MQTT.ConnectAttempts < 1 {
		return invalid("mqtt.connect_attempts must be at least 1")
	}
	if c.MQTT.Password != "" && c.MQTT.Username == "" {
		return invalid("mqtt.password set without mqtt.username")
	}
	if err := c.MQTT.TLS.Validate(); err != nil {
		return invalid("mqtt." + err.Error())
	}

	c.Sparkplug.Machines = cleanList(c.Sparkplug.Machines)
	c.Sparkplug.AllowList = cleanList(c.Sparkplug.AllowList)
	if c.Sparkplug.Namespace == "" || strings.ContainsAny(c.Sparkplug.Namespace, "/+#") {
		return invalid(fmt.Sprintf("sparkplug.namespace invalid: %q", c.Sparkplug.Namespace))
	}
	if len(c.Sparkplug.Machines) == 0 {
		return invalid("sparkplug.machines must name at least one machine")
	}
	for _, m := range c.Sparkplug.Machines {
		if strings.ContainsAny(m, "/+#") {
			return invalid(fmt.Sprintf("sparkplug.machines entry contains a topic separator or wildcard: %q", m))
		}
	}
	if c.Sparkplug.TemplateMetric == "" {
		return invalid("sparkplug.template_metric is required")
	}
	if c.Sparkplug.NodeCommandEdge == "" || c.Sparkplug.DeviceCommandID == "" {
		return invalid("sparkplug.node_command_edge and sparkplug.device_command_id are required")
	}

	if c.Rebirth.SettleDelay < 0 {
		return invalid("rebirth.settle_delay must not be negative")
	}
	if c.Queue.Capacity < 0 {
		return invalid("queue.capacity must not be negative")
	}
	if _, ok := buffer.ParseOverflowPolicy(c.Queue.Overflow); !ok {
		return invalid(fmt.Sprintf("queue.overflow unknown: %q", c.Queue.Overflow))
	}
	if c.Fanout.WriteTimeout < 0 {
		return invalid("fanout.write_timeout must not be negative")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		return invalid("http." + err.Error())
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		return invalid("nats." + err.Error())
	}

	if c.NATS.ReconnectWait < 0 || c.NATS.PingInterval < 0 {
		return invalid("nats.reconnect_wait and nats.ping_interval must not be negative")
	}
	if c.NATS.Enabled() && strings.ContainsAny(c.NATS.Subject, " \t\r\n") {
		return invalid(fmt.Sprintf("nats.subject contains whitespace: %q", c.NATS.Subject))
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format must be json or text: %q", c.Log.Format))
	}
	return nil
}

// OverflowPolicy returns the parsed queue overflow policy
func (c *Config) OverflowPolicy() buffer.OverflowPolicy {
	p, _ := buffer.ParseOverflowPolicy(c.Queue.Overflow)
	return p
}

// SubscribePatterns returns one wildcard subscription per machine
func (c *Config) SubscribePatterns() []string {
	return rebirth.SubscribePatterns(c.Sparkplug.Namespace, c.Sparkplug.Machines)
}

// RebirthTargets returns the node then device command targets
func (c *Config) RebirthTargets() []rebirth.Target {
	return rebirth.BuildTargets(c.Sparkplug.Namespace, c.Sparkplug.Machines,
		c.Sparkplug.NodeCommandEdge, c.Sparkplug.DeviceCommandID)
}

// LogValue renders the configuration for startup logging with secrets redacted
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mqtt_host", c.MQTT.Host),
		slog.Int("mqtt_port", c.MQTT.Port),
		slog.String("mqtt_username", c.MQTT.Username),
		slog.String("client_id", c.MQTT.ClientID),
		slog.Bool("mqtt_tls", c.MQTT.TLS.Enabled),
		slog.Bool("auto_reconnect", c.MQTT.AutoReconnect),
		slog.Any("machines", c.Sparkplug.Machines),
		slog.Any("subscribe_patterns", c.SubscribePatterns()),
		slog.Duration("settle_delay", c.Rebirth.SettleDelay),
		slog.Int("queue_capacity", c.Queue.Capacity),
		slog.String("queue_overflow", c.Queue.Overflow),
		slog.String("http_addr", c.HTTP.Addr),
		slog.Bool("http_tls", c.HTTP.TLS.Enabled),
		slog.Bool("nats_relay", c.NATS.Enabled()),
	)
}

// ParseLogLevel maps a level name to slog.Level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, invalid(fmt.Sprintf("log.level unknown: %q", level))
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "validate config")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
