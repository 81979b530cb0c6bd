package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names the PEM files for the console listener. CAFile is only
// needed when staff clients must present certificates.
type TLSConfig struct {
	CertFile          string
	KeyFile           string
	CAFile            string
	RequireClientAuth bool
}

// Enabled reports whether a certificate pair was configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Verify checks that every configured file exists.
func (c TLSConfig) Verify() error {
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("TLS needs both a certificate and a key file")
	}
	if c.RequireClientAuth && c.CAFile == "" {
		return errors.New("client certificate auth needs a CA file")
	}
	for _, file := range []string{c.CertFile, c.KeyFile, c.CAFile} {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("TLS file not found: %s: %w", file, err)
		}
	}
	return nil
}

// LoadServerTLSConfig builds a TLS 1.3 server config.
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate and key: %w", err)
	}

	clientAuth := tls.NoClientCert
	if cfg.RequireClientAuth {
		clientAuth = tls.RequireAndVerifyClientCert
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   clientAuth,
	}

	if cfg.CAFile != "" {
		caData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, errors.New("parse CA certificate")
		}
		tlsCfg.ClientCAs = pool
	}

	return tlsCfg, nil
}
