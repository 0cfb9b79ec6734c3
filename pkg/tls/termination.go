package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

type Config struct {
	CertFile   string
	KeyFile    string
	MinVersion uint16
}

func NewConfig(certFile, keyFile string) *Config {
	return &Config{
		CertFile:   certFile,
		KeyFile:    keyFile,
		MinVersion: tls.VersionTLS12,
	}
}

// Load builds the listener config for terminating TLS at the gateway.
func (c *Config) Load() (*tls.Config, error) {
	cert, err := os.ReadFile(c.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	key, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	certificate, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   c.MinVersion,
	}, nil
}

func (c *Config) SetMinVersion(version uint16) {
	c.MinVersion = version
}

// UpstreamConfig returns the client config used toward the API server.
// An empty caFile keeps the system roots.
func UpstreamConfig(caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("CA bundle contains no certificates")
	}
	cfg.RootCAs = pool

	return cfg, nil
}
