package server

import "errors"

var (
	// ErrMissingAddress is returned when server address is not provided.
	ErrMissingAddress = errors.New("server address is required")

	// TLS configuration errors
	ErrEmptyCertPath     = errors.New("certificate or key file path cannot be empty")
	ErrInvalidTLSProfile = errors.New("invalid TLS profile")
	ErrFailedLoadCert    = errors.New("failed to load certificate")

	// Server lifecycle errors
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrHTTPServer           = errors.New("HTTP server error")
	ErrHTTPShutdown         = errors.New("HTTP shutdown error")
)
