// Package logger builds slog loggers and provides attribute helpers shared by
// the engine, worker pool and session daemons.
//
// # Basic Usage
//
//	log := logger.New(
//		logger.WithProduction("appserver"),
//	)
//
//	log.Info("pool replenished",
//		logger.Component("worker_manager"),
//		logger.App("shop"),
//		logger.Count("created", 3),
//	)
//
// Loggers can be built from environment configuration:
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//	log := logger.NewFromConfig(cfg)
//
// # Attribute Helpers
//
// Helpers return an empty slog.Attr for nil or empty input, so they can be
// passed unconditionally:
//
//	log.Error("persist failed", logger.Error(err), logger.SessionID(id))
//
// SessionID truncates identifiers so that live session ids are never written
// to log storage in full.
package logger
