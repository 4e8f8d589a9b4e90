package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/net/http2"
)

// TLSConfig names the PEM files for a mutually authenticated connection to
// the page server. The zero value means plain HTTP.
type TLSConfig struct {
	CertPath string
	KeyPath  string
	CAPath   string
}

// Enabled reports whether any TLS material was configured.
func (c TLSConfig) Enabled() bool {
	return c.CertPath != "" || c.KeyPath != "" || c.CAPath != ""
}

// BuildClient returns an HTTP/2 client with mTLS 1.3 when cfg is enabled and
// a plain HTTP client otherwise.
func BuildClient(cfg TLSConfig) (*http.Client, error) {
	if !cfg.Enabled() {
		return &http.Client{}, nil
	}
	return BuildHTTP2Client(cfg.CertPath, cfg.KeyPath, cfg.CAPath)
}

// BuildHTTP2Client creates an HTTP/2 client with mTLS 1.3.
func BuildHTTP2Client(certPath, keyPath, caPath string) (*http.Client, error) {
	if certPath == "" {
		return nil, fmt.Errorf("certPath required")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("keyPath required")
	}
	if caPath == "" {
		return nil, fmt.Errorf("caPath required")
	}

	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}

	return &http.Client{
		Transport: &http2.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}
