// Package metrics exposes engine, handler pool and session statistics to
// Prometheus.
//
// Collector reads Stats from the configured components at scrape time, so
// nothing in the request path updates metrics. Transport instruments the
// net/http handler with request counts and latency.
//
//	c := metrics.NewCollector(cfg.Namespace,
//		metrics.WithEngine(e),
//		metrics.WithSessions(sessions),
//		metrics.WithPersistence(pm),
//		metrics.WithGC(gc),
//	)
//	reg, err := metrics.NewRegistry(c, transport)
//	...
//	srv := server.New(cfg.Addr)
//	g.Go(srv.Run(ctx, metrics.Mux(reg, cfg.Path)))
package metrics
