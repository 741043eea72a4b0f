package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

const sessionCacheSize = 64

type Options struct {
	// CAFile PEM bundle replacing the system roots, empty means system roots.
	CAFile string

	// RootCAs takes precedence over CAFile.
	RootCAs *x509.CertPool
}

// NewConfig builds the client tls.Config used towards the resolver. Session
// resumption is on, TLS 1.2 is the floor.
func NewConfig(opt Options) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(sessionCacheSize),
		RootCAs:            opt.RootCAs,
	}

	if config.RootCAs != nil || len(opt.CAFile) == 0 {
		return config, nil
	}

	raw, err := os.ReadFile(opt.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, errors.New("no certificate found in ca file " + opt.CAFile)
	}
	config.RootCAs = pool

	return config, nil
}
