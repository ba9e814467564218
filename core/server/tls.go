package server

import (
	"crypto/tls"
	"errors"
	"strings"
)

// TLS profiles accepted by Config.TLSProfile.
const (
	TLSProfileDefault = "default"
	TLSProfileModern  = "modern"
)

// DefaultTLSConfig returns a secure default TLS configuration following
// Mozilla's Intermediate recommendations: TLS 1.2+ with ECDHE AEAD suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

// ModernTLSConfig returns a TLS 1.3 only configuration.
// Use this when you control all clients.
func ModernTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

// TLSProfile returns the base configuration named by profile.
// An empty profile selects the default.
func TLSProfile(profile string) (*tls.Config, error) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", TLSProfileDefault:
		return DefaultTLSConfig(), nil
	case TLSProfileModern:
		return ModernTLSConfig(), nil
	default:
		return nil, ErrInvalidTLSProfile
	}
}

// LoadTLSConfig loads a key pair into the configuration named by profile.
func LoadTLSConfig(profile, certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, ErrEmptyCertPath
	}

	cfg, err := TLSProfile(profile)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Join(ErrFailedLoadCert, err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}
