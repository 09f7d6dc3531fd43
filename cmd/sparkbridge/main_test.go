package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparkbridge/config"
	"github.com/c360/sparkbridge/errors"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	cli, err := parseFlags([]string{"-c", "bridge.yaml", "--log-level=debug", "--http-addr", ":9001", "--validate"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "bridge.yaml", cli.ConfigPath)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, ":9001", cli.HTTPAddr)
	assert.True(t, cli.Validate)

	_, err = parseFlags([]string{"--bogus"}, &stderr)
	assert.Error(t, err)

	_, err = parseFlags([]string{"stray"}, &stderr)
	assert.Error(t, err)

	cli, err = parseFlags([]string{"--help"}, &stderr)
	require.NoError(t, err)
	assert.True(t, cli.ShowHelp)
	assert.Contains(t, stderr.String(), "MACHINES_TO_MONITOR")
}

func TestCLIConfig_ApplyOnlyChangedFlags(t *testing.T) {
	cli, err := parseFlags([]string{"--log-format=text"}, io.Discard)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.HTTP.Addr = ":7000"
	require.NoError(t, cli.apply(cfg))
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":7000", cfg.HTTP.Addr, "unset flags keep the loaded value")

	cli, err = parseFlags([]string{"--log-level=loud"}, io.Discard)
	require.NoError(t, err)
	assert.Error(t, cli.apply(config.Default()))
}

func TestRun_VersionAndValidate(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "sparkbridge version "+Version)

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  password: hunter2\n"), 0o600))

	stdout.Reset()
	require.NoError(t, run([]string{"--config", path, "--validate"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "Configuration is valid")
	assert.NotContains(t, stdout.String(), "hunter2")

	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  port: -1\n"), 0o600))
	assert.Error(t, run([]string{"--config", path, "--validate"}, io.Discard, io.Discard))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"sparkbridge"`)

	buf.Reset()
	setupLogger(&buf, "info", "text").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MQTT.Host = "127.0.0.1"
	cfg.MQTT.Port = 1
	cfg.MQTT.ConnectTimeout = time.Second
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = time.Second
	return cfg
}

func TestNewBridge_RegistersHealth(t *testing.T) {
	b, err := newBridge(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"broadcaster", "gateway", "upstream"}, b.monitor.ListComponents())

	status := b.monitor.Check(appName)
	assert.True(t, status.IsUnhealthy(), "nothing is running yet")

	cfg := testConfig()
	cfg.NATS.URL = "nats://127.0.0.1:1"
	b, err = newBridge(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Contains(t, b.monitor.ListComponents(), "nats")
}

func TestBridge_NATSHealthFollowsConnectionCallbacks(t *testing.T) {
	cfg := testConfig()
	cfg.NATS.URL = "nats://127.0.0.1:1"
	b, err := newBridge(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	status, ok := b.monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsDegraded())
	assert.Equal(t, "connecting", status.Message)

	b.handleNATSDisconnect(stderrors.New("read tcp: connection reset"))
	status, _ = b.monitor.Get("nats")
	assert.True(t, status.IsDegraded())
	assert.Contains(t, status.Message, "disconnected")

	b.handleNATSReconnect()
	status, _ = b.monitor.Get("nats")
	assert.True(t, status.IsHealthy())

	select {
	case <-b.natsReconnected:
	default:
		t.Fatal("reconnect did not signal the relay loop")
	}

	// Repeated reconnects before the loop drains the signal do not block
	b.handleNATSReconnect()
	b.handleNATSReconnect()
	assert.Len(t, b.natsReconnected, 1)
}

func TestBridge_RunRelayUnreachableMarksNATSUnhealthy(t *testing.T) {
	cfg := testConfig()
	cfg.NATS.URL = "nats://127.0.0.1:1"
	b, err := newBridge(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.runRelay(ctx), "NATS failures never stop the bridge")
	status, ok := b.monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
	require.NoError(t, b.nats.Close(context.Background()))
}

func TestBridge_RunFailsWhenBrokerUnreachable(t *testing.T) {
	b, err := newBridge(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = b.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrConnection)
	assert.False(t, b.server.Running())
	assert.False(t, b.broadcaster.Running())
}

func TestNewBridge_TLSFilesMissing(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.TLS.Enabled = true
	cfg.HTTP.TLS.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	cfg.HTTP.TLS.KeyFile = filepath.Join(t.TempDir(), "missing-key.pem")

	_, err := newBridge(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
