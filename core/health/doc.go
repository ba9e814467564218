// Package health provides liveness and readiness checks for the server.
//
// A Check follows the func(context.Context) error signature used by every
// component healthcheck in the module:
//
//	ready := health.Join(
//		engine.Healthcheck,
//		persistence.Healthcheck,
//		pg.Healthcheck(pool),
//	)
//
//	mux.Handle("/health/live", health.Liveness())
//	mux.Handle("/health/ready", health.Readiness(logger, ready))
//
// Join runs checks concurrently and reports every failure, not just the
// first one.
package health
