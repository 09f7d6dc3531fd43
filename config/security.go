package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxConfigSize = 1 << 20 // bytes
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

var (
	errEmptyPath   = stderrors.New("empty config path")
	errNotYAML     = stderrors.New("config file must be .yaml or .yml")
	errOutsideTree = stderrors.New("relative config path escapes the working directory")
)

// validateConfigPath accepts the file named by --config or SPARKBRIDGE_CONFIG.
// The loader only understands YAML, so anything else is refused before it is
// opened. Relative paths are resolved against the working directory and must
// stay inside it; absolute paths are taken as given by the operator.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return errEmptyPath
	case len(path) > maxPathLen:
		return fmt.Errorf("config path too long: %d > %d", len(path), maxPathLen)
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s", errNotYAML, path)
	}
	if filepath.IsAbs(path) {
		return nil
	}

	rel := filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", errOutsideTree, path)
	}
	return nil
}

// safeReadFile returns the contents of one YAML layer. The file must be a
// regular file no larger than maxConfigSize, which keeps a mistyped path
// (a device, a directory, a log file) from being fed to the decoder.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config path is not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

// validateEnvVar rejects override values no real setting would carry.
// Empty values mean "not set" and pass.
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("environment variable %s contains a NUL byte", key)
	}
	return nil
}
