package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sparkbridge/errors"
)

// DefaultEnvPrefix prefixes every non-historical environment override
const DefaultEnvPrefix = "SPARKBRIDGE"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	if path != "" {
		l.layers = append(l.layers, path)
	}
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load is shorthand for a loader with a single optional file layer.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	return l.Load()
}

// Load applies defaults, every file layer, then environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) applyFile(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "read "+path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "parse "+path)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	e := envReader{lookup: l.lookupEnv}

	// Historical names, unprefixed
	e.str("MQTT_HOST", &cfg.MQTT.Host)
	e.integer("MQTT_PORT", &cfg.MQTT.Port)
	e.str("MQTT_USERNAME", &cfg.MQTT.Username)
	e.str("MQTT_PASSWORD", &cfg.MQTT.Password)
	e.list("MACHINES_TO_MONITOR", &cfg.Sparkplug.Machines)

	p := l.envPrefix + "_"
	e.str(p+"MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	e.duration(p+"MQTT_KEEP_ALIVE", &cfg.MQTT.KeepAlive)
	e.integer(p+"MQTT_CONNECT_ATTEMPTS", &cfg.MQTT.ConnectAttempts)
	e.boolean(p+"AUTO_RECONNECT", &cfg.MQTT.AutoReconnect)
	e.str(p+"NAMESPACE", &cfg.Sparkplug.Namespace)
	e.str(p+"TEMPLATE_METRIC", &cfg.Sparkplug.TemplateMetric)
	e.list(p+"ALLOW_LIST", &cfg.Sparkplug.AllowList)
	e.duration(p+"SETTLE_DELAY", &cfg.Rebirth.SettleDelay)
	e.integer(p+"QUEUE_CAPACITY", &cfg.Queue.Capacity)
	e.str(p+"QUEUE_OVERFLOW", &cfg.Queue.Overflow)
	e.duration(p+"WRITE_TIMEOUT", &cfg.Fanout.WriteTimeout)
	e.str(p+"HTTP_ADDR", &cfg.HTTP.Addr)
	e.str(p+"INDEX_PATH", &cfg.HTTP.IndexPath)
	e.str(p+"NATS_URL", &cfg.NATS.URL)
	e.str(p+"NATS_SUBJECT", &cfg.NATS.Subject)
	e.str(p+"NATS_TOKEN", &cfg.NATS.Token)
	e.str(p+"LOG_LEVEL", &cfg.Log.Level)
	e.str(p+"LOG_FORMAT", &cfg.Log.Format)

	if len(e.errs) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(e.errs...)),
			"Loader", "Load", "apply environment")
	}
	return nil
}

// envReader collects parse failures so every bad variable is reported at once.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	val, ok := e.lookup(key)
	if !ok || val == "" {
		return "", false
	}
	if err := validateEnvVar(key, val); err != nil {
		e.errs = append(e.errs, err)
		return "", false
	}
	return val, true
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.get(key); ok {
		*dst = val
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if val, ok := e.get(key); ok {
		*dst = cleanList(strings.Split(val, ","))
	}
}

func (e *envReader) integer(key string, dst *int) {
	if val, ok := e.get(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: not an integer: %q", key, val))
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if val, ok := e.get(key); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: not a boolean: %q", key, val))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if val, ok := e.get(key); ok {
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: not a duration: %q", key, val))
			return
		}
		*dst = d
	}
}
