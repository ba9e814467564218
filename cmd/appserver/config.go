package main

import (
	"github.com/dmitrymomot/appserver/core/engine"
	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/metrics"
	"github.com/dmitrymomot/appserver/core/server"
	"github.com/dmitrymomot/appserver/core/session"
)

// Session store backends selectable with SESSION_STORE.
const (
	storeFile     = "file"
	storeRedis    = "redis"
	storePostgres = "postgres"
	storeS3       = "s3"
	storeMemory   = "memory"
)

// Config is the process configuration. Backend specific settings are loaded
// separately once SESSION_STORE selects a backend.
type Config struct {
	Logger  logger.Config
	Server  server.Config
	Engine  engine.Config
	Session session.Settings
	Metrics metrics.Config

	SessionStore string `env:"SESSION_STORE" envDefault:"file"`

	// Applications served by the built-in demo registry.
	WelcomeVirtualHosts []string `env:"WELCOME_VIRTUAL_HOSTS" envSeparator:","`
	StatusContextPath   string   `env:"STATUS_CONTEXT_PATH" envDefault:"/_status"`
}
