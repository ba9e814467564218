package server_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/server"
)

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("creates server from config with defaults", func(t *testing.T) {
		srv, err := server.NewFromConfig(server.DefaultConfig())

		require.NoError(t, err)
		assert.Equal(t, server.DefaultAddr, srv.Addr())
	})

	t.Run("applies custom config values", func(t *testing.T) {
		cfg := server.Config{
			Addr:            ":9000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    20 * time.Second,
			IdleTimeout:     30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxHeaderBytes:  2 << 20,
		}

		srv, err := server.NewFromConfig(cfg, server.WithShutdownTimeout(time.Second))

		require.NoError(t, err)
		assert.Equal(t, ":9000", srv.Addr())
	})

	t.Run("rejects empty address", func(t *testing.T) {
		_, err := server.NewFromConfig(server.Config{})

		assert.ErrorIs(t, err, server.ErrMissingAddress)
	})

	t.Run("loads TLS files", func(t *testing.T) {
		certFile, keyFile := writeKeyPair(t, t.TempDir())
		cfg := server.DefaultConfig()
		cfg.TLSCertFile, cfg.TLSKeyFile = certFile, keyFile

		srv, err := server.NewFromConfig(cfg)

		require.NoError(t, err)
		assert.NotNil(t, srv)
	})

	t.Run("fails on half TLS configuration", func(t *testing.T) {
		cfg := server.DefaultConfig()
		cfg.TLSCertFile = filepath.Join(t.TempDir(), "cert.pem")

		_, err := server.NewFromConfig(cfg)

		assert.ErrorIs(t, err, server.ErrEmptyCertPath)
	})
}
