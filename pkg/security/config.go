// Package security holds the TLS settings shared by the bridge's network
// connections: the MQTT upstream, the NATS relay and the HTTP server.
package security

import (
	stderrors "errors"
	"fmt"
)

// ClientTLSConfig configures an outbound TLS connection. The system CA bundle
// is always trusted; CAFiles are additional trusted CAs.
type ClientTLSConfig struct {
	Enabled            bool     `yaml:"enabled"`
	CAFiles            []string `yaml:"ca_files"`
	ServerName         string   `yaml:"server_name"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"` // DEV/TEST ONLY
	MinVersion         string   `yaml:"min_version"`          // "1.2" or "1.3"

	// Client certificate for mTLS
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Validate checks the settings when TLS is enabled
func (c ClientTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return stderrors.New("tls.cert_file and tls.key_file must be set together")
	}
	return validateVersion(c.MinVersion)
}

// ServerTLSConfig configures the HTTP listener
type ServerTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`

	// Client certificate validation. Empty ClientCAFiles disables mTLS.
	ClientCAFiles     []string `yaml:"client_ca_files"`
	RequireClientCert bool     `yaml:"require_client_cert"`
	AllowedClientCNs  []string `yaml:"allowed_client_cns"`
}

// Validate checks the settings when TLS is enabled
func (c ServerTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return stderrors.New("tls.cert_file and tls.key_file are required")
	}
	if c.RequireClientCert && len(c.ClientCAFiles) == 0 {
		return stderrors.New("tls.require_client_cert needs tls.client_ca_files")
	}
	return validateVersion(c.MinVersion)
}

// MTLS reports whether client certificates are validated
func (c ServerTLSConfig) MTLS() bool {
	return len(c.ClientCAFiles) > 0
}

func validateVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	}
	return fmt.Errorf("unsupported TLS version %q: use 1.2 or 1.3", v)
}
