package network

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig describes the cert material for a tls/wss listener. The
// handshake itself is stdlib crypto/tls; this only assembles its config
// from the file paths the broker configuration carries.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	// CAFile, when set, enables mutual TLS: client certificates are
	// required and verified against this CA.
	CAFile string
	// MinVersion defaults to TLS 1.2, the floor most MQTT clients in the
	// field can still reach.
	MinVersion uint16
}

// Build loads the cert/key pair (and optional client CA) into a
// *tls.Config.
func (tc *TLSConfig) Build() (*tls.Config, error) {
	if tc.CertFile == "" || tc.KeyFile == "" {
		return nil, ErrMissingCertPair
	}

	cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("network: load key pair: %w", err)
	}

	minVersion := tc.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}

	if tc.CAFile != "" {
		pem, err := os.ReadFile(tc.CAFile)
		if err != nil {
			return nil, fmt.Errorf("network: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("network: no certificates in CA file %s", tc.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}
