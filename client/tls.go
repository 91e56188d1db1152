package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/otherjamesbrown/minutes/config"
)

// LoadClientTLSConfig builds the transport TLS settings. It returns nil when
// no TLS option is configured.
func LoadClientTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	cfg = cfg.Resolved()

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipVerify,
	}

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		if err := CheckCertsExist(cfg); err != nil {
			return nil, err
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACert != "" && !cfg.SkipVerify {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA cert: invalid PEM")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// CheckCertsExist reports a missing client certificate or key by name.
func CheckCertsExist(cfg config.TLSConfig) error {
	for _, f := range []struct{ name, path string }{
		{"Client certificate", cfg.ClientCert},
		{"Client key", cfg.ClientKey},
	} {
		if f.path == "" {
			return fmt.Errorf("%s not configured", f.name)
		}
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			return fmt.Errorf("%s not found: %s", f.name, f.path)
		}
	}
	return nil
}
