// Package server hosts the engine behind net/http with graceful shutdown,
// configurable timeouts and optional TLS.
//
// Handler adapts an engine to http.Handler. Each request gets a fresh
// engine.TransportResponse; a dispatched response is copied to the
// http.ResponseWriter, and a rejected request is answered with the status and
// message of the engine.Error Process returned.
//
// # Basic Usage
//
//	e, err := engine.NewDynamic(registry)
//	if err != nil {
//		return err
//	}
//
//	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(e.Run(ctx))
//	g.Go(srv.Run(ctx, server.Handler(e,
//		server.WithHandlerLogger(log),
//		server.WithHealthcheck(cfg.Server.HealthPath, e.Healthcheck),
//	)))
//	return g.Wait()
//
// # TLS
//
// Setting SERVER_TLS_CERT_FILE and SERVER_TLS_KEY_FILE enables HTTPS.
// SERVER_TLS_PROFILE selects "default" (TLS 1.2+) or "modern" (TLS 1.3 only).
//
// # Graceful Shutdown
//
// Run returns a func() error for errgroup. When the context is cancelled the
// server stops accepting connections and waits up to the shutdown timeout for
// in-flight requests.
package server
