// Package worker implements per-application pools of request handler
// goroutines and the manager daemon that keeps them sized.
//
// Each Handler owns a private inbox. The engine acquires an idle handler
// from the application's Pool, hands it a request with Serve and releases it
// afterwards. A handler runs the application's valve chain, converts a valve
// error into a 500 response, renders the application's error page for
// statuses above 399 and dispatches the response.
//
// Handlers have a randomized time to live and request budget drawn from a
// Policy. A handler that reaches either limit exits and is marked retired. A
// handler whose goroutine panics dispatches a 500, is marked
// StateShouldRestart and is never acquired again. The Manager removes both
// kinds on its next pass and creates replacements, so that every pool holds
// at least its target size and its spare minimum of idle handlers.
//
//	mgr := worker.NewManagerFromConfig(cfg, registry.All(), worker.PolicyFromConfig(cfg), log)
//	g.Go(mgr.Run(ctx))
//
//	pool, _ := mgr.Pool("shop")
//	h, err := pool.Acquire(ctx, 5*time.Second)
//	if err != nil {
//		return err
//	}
//	defer pool.Release(h)
//	pool.Serve(h, req, resp)
package worker
