package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/appserver/core/config"
	"github.com/dmitrymomot/appserver/core/health"
	"github.com/dmitrymomot/appserver/core/session"
	pgdb "github.com/dmitrymomot/appserver/integration/database/pg"
	redisdb "github.com/dmitrymomot/appserver/integration/database/redis"
	sessionpg "github.com/dmitrymomot/appserver/integration/session/pg"
	sessionredis "github.com/dmitrymomot/appserver/integration/session/redis"
	sessions3 "github.com/dmitrymomot/appserver/integration/session/s3"
)

// store is a configured session handler plus its readiness check and the
// function releasing its connections.
type store struct {
	handler session.Handler
	health  health.Check
	close   func()
}

func openStore(ctx context.Context, cfg Config, log *slog.Logger) (store, error) {
	settings := cfg.Session
	noop := func() {}

	switch cfg.SessionStore {
	case storeMemory:
		return store{close: noop}, nil

	case storeFile, "":
		h, err := session.NewFileHandlerFromSettings(settings, session.WithFileLogger(log))
		if err != nil {
			return store{}, err
		}
		return store{handler: h, close: noop}, nil

	case storeRedis:
		var rcfg redisdb.Config
		if err := config.Load(&rcfg); err != nil {
			return store{}, err
		}
		client, err := redisdb.Connect(ctx, rcfg)
		if err != nil {
			return store{}, err
		}
		h, err := sessionredis.New(client,
			sessionredis.WithInactivityTimeout(settings.InactivityTimeout),
			sessionredis.WithScanBatchSize(rcfg.ScanBatchSize),
			sessionredis.WithLogger(log),
		)
		if err != nil {
			_ = client.Close()
			return store{}, err
		}
		return store{
			handler: h,
			health:  redisdb.Healthcheck(client),
			close:   func() { _ = client.Close() },
		}, nil

	case storePostgres:
		var pcfg pgdb.Config
		if err := config.Load(&pcfg); err != nil {
			return store{}, err
		}
		pool, err := pgdb.Connect(ctx, pcfg)
		if err != nil {
			return store{}, err
		}
		if err := pgdb.Migrate(ctx, pool, sessionpg.Migrations, pcfg, log); err != nil {
			pool.Close()
			return store{}, err
		}
		h, err := sessionpg.New(pool,
			sessionpg.WithInactivityTimeout(settings.InactivityTimeout),
			sessionpg.WithLogger(log),
		)
		if err != nil {
			pool.Close()
			return store{}, err
		}
		return store{handler: h, health: pgdb.Healthcheck(pool), close: pool.Close}, nil

	case storeS3:
		var scfg sessions3.Config
		if err := config.Load(&scfg); err != nil {
			return store{}, err
		}
		h, err := sessions3.New(ctx, scfg,
			sessions3.WithInactivityTimeout(settings.InactivityTimeout),
			sessions3.WithLogger(log),
		)
		if err != nil {
			return store{}, err
		}
		return store{handler: h, close: noop}, nil
	}

	return store{}, fmt.Errorf("unknown session store %q", cfg.SessionStore)
}
