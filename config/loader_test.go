package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparkbridge/errors"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newEnvLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoad_NoFileIsDefaults(t *testing.T) {
	cfg, err := newEnvLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
mqtt:
  host: broker.plant.local
  port: 8883
  auto_reconnect: true
sparkplug:
  machines: [Injection-E3, Injection-E4]
  allow_list: [oee]
rebirth:
  settle_delay: 2s
queue:
  capacity: 0
  overflow: drop_newest
nats:
  url: nats://localhost:4222
  subject: plant.oee
  json: true
`)
	l := newEnvLoader(nil)
	l.AddLayer(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "broker.plant.local", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.True(t, cfg.MQTT.AutoReconnect)
	assert.Equal(t, "mes", cfg.MQTT.Username, "unset keys keep defaults")
	assert.Equal(t, []string{"Injection-E3", "Injection-E4"}, cfg.Sparkplug.Machines)
	assert.Equal(t, []string{"oee"}, cfg.Sparkplug.AllowList)
	assert.Equal(t, 2*time.Second, cfg.Rebirth.SettleDelay)
	assert.Equal(t, 0, cfg.Queue.Capacity)
	assert.Equal(t, "drop_newest", cfg.Queue.Overflow)
	assert.True(t, cfg.NATS.Enabled())
	assert.True(t, cfg.NATS.JSON)
}

func TestLoad_LayersApplyInOrder(t *testing.T) {
	base := writeConfig(t, "base.yaml", "mqtt:\n  host: a\n  port: 1884\n")
	override := writeConfig(t, "override.yml", "mqtt:\n  host: b\n")

	l := newEnvLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "b", cfg.MQTT.Host)
	assert.Equal(t, 1884, cfg.MQTT.Port)
}

func TestLoad_EmptyFile(t *testing.T) {
	l := newEnvLoader(nil)
	l.AddLayer(writeConfig(t, "empty.yaml", ""))
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"unknown key", func(t *testing.T) string { return writeConfig(t, "c.yaml", "mqtt:\n  hostname: x\n") }},
		{"malformed", func(t *testing.T) string { return writeConfig(t, "c.yaml", "mqtt: [\n") }},
		{"wrong type", func(t *testing.T) string { return writeConfig(t, "c.yaml", "mqtt:\n  port: many\n") }},
		{"not yaml extension", func(t *testing.T) string { return writeConfig(t, "c.json", "{}") }},
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") }},
		{"directory", func(t *testing.T) string {
			dir := filepath.Join(t.TempDir(), "dir.yaml")
			require.NoError(t, os.Mkdir(dir, 0o700))
			return dir
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newEnvLoader(nil)
			l.AddLayer(tt.path(t))
			_, err := l.Load()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoad_ValidationCanBeDisabled(t *testing.T) {
	path := writeConfig(t, "c.yaml", "mqtt:\n  port: 0\n")

	l := newEnvLoader(nil)
	l.AddLayer(path)
	_, err := l.Load()
	require.Error(t, err)

	l.EnableValidation(false)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MQTT.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "c.yaml", "mqtt:\n  host: from-file\n")

	l := newEnvLoader(map[string]string{
		"MQTT_HOST":                   "from-env",
		"MQTT_PORT":                   "1885",
		"MQTT_USERNAME":               "operator",
		"MQTT_PASSWORD":               "pw",
		"MACHINES_TO_MONITOR":         "Injection-E3, Injection-E4,,",
		"SPARKBRIDGE_AUTO_RECONNECT":  "true",
		"SPARKBRIDGE_SETTLE_DELAY":    "250ms",
		"SPARKBRIDGE_QUEUE_CAPACITY":  "0",
		"SPARKBRIDGE_QUEUE_OVERFLOW":  "block",
		"SPARKBRIDGE_HTTP_ADDR":       ":9000",
		"SPARKBRIDGE_NATS_URL":        "nats://nats:4222",
		"SPARKBRIDGE_LOG_LEVEL":       "debug",
		"SPARKBRIDGE_ALLOW_LIST":      "oee,status",
		"SPARKBRIDGE_MQTT_KEEP_ALIVE": "",
	})
	l.AddLayer(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.MQTT.Host)
	assert.Equal(t, 1885, cfg.MQTT.Port)
	assert.Equal(t, "operator", cfg.MQTT.Username)
	assert.Equal(t, "pw", cfg.MQTT.Password)
	assert.Equal(t, []string{"Injection-E3", "Injection-E4"}, cfg.Sparkplug.Machines)
	assert.True(t, cfg.MQTT.AutoReconnect)
	assert.Equal(t, 250*time.Millisecond, cfg.Rebirth.SettleDelay)
	assert.Equal(t, 0, cfg.Queue.Capacity)
	assert.Equal(t, "block", cfg.Queue.Overflow)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"oee", "status"}, cfg.Sparkplug.AllowList)
	assert.Equal(t, 60*time.Second, cfg.MQTT.KeepAlive, "empty variables are ignored")
}

func TestLoad_EnvironmentParseErrors(t *testing.T) {
	l := newEnvLoader(map[string]string{
		"MQTT_PORT":                  "eighteen",
		"SPARKBRIDGE_SETTLE_DELAY":   "soon",
		"SPARKBRIDGE_AUTO_RECONNECT": "maybe",
		"SPARKBRIDGE_HTTP_ADDR":      "bad\x00addr",
	})
	_, err := l.Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	for _, key := range []string{"MQTT_PORT", "SPARKBRIDGE_SETTLE_DELAY", "SPARKBRIDGE_AUTO_RECONNECT", "SPARKBRIDGE_HTTP_ADDR"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_Shorthand(t *testing.T) {
	t.Setenv("MQTT_HOST", "shorthand-host")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "shorthand-host", cfg.MQTT.Host)
}

func TestLoad_TLSSection(t *testing.T) {
	path := writeConfig(t, "tls.yaml", `
mqtt:
  port: 8883
  tls:
    enabled: true
    ca_files: [/etc/ssl/plant-ca.pem]
    server_name: broker.plant.local
http:
  tls:
    enabled: true
    cert_file: /etc/ssl/bridge.pem
    key_file: /etc/ssl/bridge-key.pem
    client_ca_files: [/etc/ssl/hmi-ca.pem]
    allowed_client_cns: [hmi-01]
`)
	l := newEnvLoader(nil)
	l.AddLayer(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.True(t, cfg.MQTT.TLS.Enabled)
	assert.Equal(t, []string{"/etc/ssl/plant-ca.pem"}, cfg.MQTT.TLS.CAFiles)
	assert.Equal(t, "broker.plant.local", cfg.MQTT.TLS.ServerName)
	assert.True(t, cfg.HTTP.TLS.MTLS())
	assert.Equal(t, []string{"hmi-01"}, cfg.HTTP.TLS.AllowedClientCNs)
	assert.False(t, cfg.NATS.TLS.Enabled)
}
