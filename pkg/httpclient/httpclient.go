// Package httpclient holds the transport seam used by the client and a
// constructor for a TLS-aware *http.Client.
package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// HTTPDoer is the subset of *http.Client the client depends on.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to HTTPDoer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

const DefaultTimeout = 30 * time.Second

// TLSOptions configures client certificates and server verification.
type TLSOptions struct {
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

type Options struct {
	// Timeout bounds a whole exchange. Zero means DefaultTimeout.
	Timeout time.Duration
	TLS     *TLSOptions
}

// New builds an *http.Client with optional mTLS and custom CA.
func New(opts Options) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if opts.TLS != nil {
		tlsCfg := &tls.Config{
			InsecureSkipVerify: opts.TLS.InsecureSkipVerify,
		}

		if opts.TLS.CertFile != "" && opts.TLS.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(opts.TLS.CertFile, opts.TLS.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsCfg.Certificates = []tls.Certificate{cert}
		}

		if opts.TLS.CAFile != "" {
			caCert, err := os.ReadFile(opts.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse CA certificate")
			}
			tlsCfg.RootCAs = pool
		}

		transport.TLSClientConfig = tlsCfg
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// IsSuccessStatus reports whether status is 2xx.
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}
