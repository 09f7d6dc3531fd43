package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/c360/sparkbridge/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	HTTPAddr    string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool

	flags *pflag.FlagSet
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&cfg.ConfigPath, "config", "c", os.Getenv("SPARKBRIDGE_CONFIG"),
		"Path to YAML configuration file (env: SPARKBRIDGE_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", "", "HTTP listen address, e.g. :8000")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help information")
	fs.Usage = func() { printHelp(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	cfg.flags = fs
	return cfg, nil
}

// apply overrides loaded configuration with explicitly set flags.
func (c *CLIConfig) apply(cfg *config.Config) error {
	if c.flags == nil {
		return nil
	}
	if c.flags.Changed("log-level") {
		cfg.Log.Level = c.LogLevel
	}
	if c.flags.Changed("log-format") {
		cfg.Log.Format = c.LogFormat
	}
	if c.flags.Changed("http-addr") {
		cfg.HTTP.Addr = c.HTTPAddr
	}
	return cfg.Validate()
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - Sparkplug B to WebSocket bridge

Usage: %s [options]

Options:
%s
Environment:
  MQTT_HOST, MQTT_PORT, MQTT_USERNAME, MQTT_PASSWORD, MACHINES_TO_MONITOR
  SPARKBRIDGE_* overrides for every other setting

Examples:
  # Monitor two machines on a local broker
  MQTT_HOST=localhost MACHINES_TO_MONITOR=Injection-E3,Injection-E4 %s

  # Run with a config file and text logs
  %s --config=/etc/sparkbridge.yaml --log-format=text

  # Validate configuration only
  %s --config=/etc/sparkbridge.yaml --validate

Version: %s
Build: %s
`, appName, appName, fs.FlagUsages(), appName, appName, appName, Version, BuildTime)
}
