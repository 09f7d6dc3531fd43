// Package main implements the entry point for the sparkbridge service.
// sparkbridge subscribes to Sparkplug B machine telemetry over MQTT, keeps the
// latest value of each selected metric and fans updates out to WebSocket
// clients, with an optional NATS relay.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/sparkbridge/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sparkbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowHelp {
		return nil
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := initializeConfiguration(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath, "settings", cfg)
		return nil
	}

	logger.Info("Starting sparkbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"settings", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBridge(cfg, logger)
	if err != nil {
		return err
	}
	if err := b.Run(ctx); err != nil {
		return err
	}

	logger.Info("sparkbridge shutdown complete")
	return nil
}

// initializeConfiguration loads the file and environment layers, then
// applies flag overrides.
func initializeConfiguration(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(cli.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cli.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
