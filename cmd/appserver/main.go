// Command appserver runs the application server: the engine with its handler
// pools, the session daemons, the HTTP transport and the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/appserver/core/config"
	"github.com/dmitrymomot/appserver/core/engine"
	"github.com/dmitrymomot/appserver/core/health"
	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/metrics"
	"github.com/dmitrymomot/appserver/core/server"
	"github.com/dmitrymomot/appserver/core/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	log := logger.NewFromConfig(cfg.Logger)

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.close()

	settings := cfg.Session
	factory := session.NewFactory(
		session.WithFactorySize(settings.FactorySize),
		session.WithFactoryLogger(log),
		session.WithFactoryShutdownTimeout(settings.ShutdownTimeout),
	)
	sessions := session.NewManager(settings,
		session.WithFactory(factory),
		session.WithHandlers(st.handler),
		session.WithManagerLogger(log),
	)
	persistence := session.NewPersistenceManager(sessions,
		session.WithPersistInterval(settings.PersistInterval),
		session.WithPersistenceInactivityTimeout(settings.InactivityTimeout),
		session.WithPersistenceShutdownTimeout(settings.ShutdownTimeout),
		session.WithPersistenceLogger(log),
	)
	gc := session.NewGarbageCollector(sessions,
		session.WithGCInterval(settings.GCInterval),
		session.WithGCProbability(settings.GCProbability),
		session.WithGCInactivityTimeout(settings.InactivityTimeout),
		session.WithGCShutdownTimeout(settings.ShutdownTimeout),
		session.WithGCLogger(log),
	)

	var e *engine.Engine
	registry, err := applications(cfg, sessions, func() engine.Stats { return e.Stats() })
	if err != nil {
		return err
	}
	e, err = engine.NewFromConfig(cfg.Engine, registry, engine.WithLogger(log))
	if err != nil {
		return err
	}

	ready := health.Join(e.Healthcheck, persistence.Healthcheck, gc.Healthcheck, st.health)

	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
	if err != nil {
		return err
	}
	transport := metrics.NewTransport(cfg.Metrics.Namespace)
	handler := transport.Instrument(server.Handler(e,
		server.WithHandlerLogger(log),
		server.WithHealthcheck(cfg.Server.HealthPath, server.HealthFunc(ready)),
	))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(factory.Run(ctx))
	g.Go(persistence.Run(ctx))
	g.Go(gc.Run(ctx))
	g.Go(e.Run(ctx))
	g.Go(srv.Run(ctx, handler))

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics.Namespace,
			metrics.WithEngine(e),
			metrics.WithSessions(sessions),
			metrics.WithPersistence(persistence),
			metrics.WithGC(gc),
			metrics.WithFactory(factory),
		)
		reg, err := metrics.NewRegistry(collector, transport)
		if err != nil {
			return err
		}
		metricsSrv := server.New(cfg.Metrics.Addr, server.WithLogger(log))
		mux := metrics.Mux(reg, cfg.Metrics.Path)
		mux.Handle("/health/live", health.Liveness())
		mux.Handle("/health/ready", health.Readiness(log, ready))
		g.Go(metricsSrv.Run(ctx, mux))
	}

	log.InfoContext(ctx, "appserver started",
		slog.String("variant", string(e.Variant())),
		slog.String("session_store", cfg.SessionStore),
		slog.String("addr", cfg.Server.Addr))

	if err := g.Wait(); err != nil {
		log.Error("appserver stopped with error", logger.Error(err))
		return err
	}
	log.Info("appserver stopped")
	return nil
}
