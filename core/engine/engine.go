package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/valve"
	"github.com/dmitrymomot/appserver/core/worker"
)

// Stats provides observability metrics.
type Stats struct {
	Variant   Variant
	Processed int64
	Failed    int64
	Routing   int64 // requests rejected by the router
	NotReady  int64
	Exhausted int64
	Workers   worker.ManagerStats
}

// Engine routes transport requests to application pools and runs them on
// pooled request handlers.
type Engine struct {
	variant        Variant
	registry       *app.Registry
	router         *Router
	workers        *worker.Manager
	acquireTimeout time.Duration
	maxBody        int64
	logger         *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	routing   atomic.Int64
	notReady  atomic.Int64
	exhausted atomic.Int64
}

type options struct {
	config Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithConfig replaces the whole configuration. The variant argument of the
// constructor still wins.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithAcquireTimeout bounds how long Process waits for an idle handler.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.config.AcquireTimeout = d
		}
	}
}

// WithMaxBodySize limits request bodies. Zero means unlimited.
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		if n >= 0 {
			o.config.MaxBodySize = n
		}
	}
}

// WithWorkerConfig sets pool sizing and handler lifetime.
func WithWorkerConfig(cfg worker.Config) Option {
	return func(o *options) {
		o.config.Worker = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewDynamic creates an engine whose handlers serve many requests each.
func NewDynamic(registry *app.Registry, opts ...Option) (*Engine, error) {
	return newEngine(Dynamic, registry, opts...)
}

// NewStatic creates an engine whose handlers serve a single request each.
func NewStatic(registry *app.Registry, opts ...Option) (*Engine, error) {
	return newEngine(Static, registry, opts...)
}

// NewFromConfig creates an engine of the configured variant.
func NewFromConfig(cfg Config, registry *app.Registry, opts ...Option) (*Engine, error) {
	variant := cfg.Variant
	if variant != Static {
		variant = Dynamic
	}
	return newEngine(variant, registry, append([]Option{WithConfig(cfg)}, opts...)...)
}

func newEngine(variant Variant, registry *app.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	o := options{
		config: DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	apps := registry.All()
	router, err := NewRouter(apps)
	if err != nil {
		return nil, err
	}

	policy := worker.PolicyFromConfig(o.config.Worker)
	if variant == Static {
		policy = policy.SingleShot()
	}

	return &Engine{
		variant:        variant,
		registry:       registry,
		router:         router,
		workers:        worker.NewManagerFromConfig(o.config.Worker, apps, policy, o.logger),
		acquireTimeout: o.config.AcquireTimeout,
		maxBody:        o.config.MaxBodySize,
		logger:         o.logger,
	}, nil
}

// Variant returns the handler lifetime policy in use.
func (e *Engine) Variant() Variant { return e.variant }

// Router returns the routing table.
func (e *Engine) Router() *Router { return e.router }

// Workers returns the request handler manager.
func (e *Engine) Workers() *worker.Manager { return e.workers }

// Process routes r to its application, runs it on an idle handler and
// copies the result into resp. It returns once resp is dispatched or with an
// Error describing why no handler ran.
func (e *Engine) Process(r *http.Request, resp *TransportResponse) error {
	ctx := r.Context()
	start := time.Now()

	name, ok := e.router.Match(r.Host, r.URL.Path)
	if !ok {
		e.routing.Add(1)
		return e.fail(ctx, r, ErrNoApplication)
	}

	a, err := e.registry.Get(name)
	if err != nil {
		return e.fail(ctx, r, ErrInternal.WithError(err))
	}
	if !a.Connected() {
		e.notReady.Add(1)
		return e.fail(ctx, r, ErrNotReady)
	}

	pool, err := e.workers.Pool(name)
	if err != nil {
		return e.fail(ctx, r, ErrInternal.WithError(err))
	}

	h, err := pool.Acquire(ctx, e.acquireTimeout)
	switch {
	case errors.Is(err, worker.ErrAcquireTimeout):
		e.exhausted.Add(1)
		return e.fail(ctx, r, ErrHandlerExhausted.WithError(err))
	case errors.Is(err, worker.ErrPoolClosed):
		e.notReady.Add(1)
		return e.fail(ctx, r, ErrNotReady.WithError(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return e.fail(ctx, r, ErrRequestCanceled.WithError(err))
	case err != nil:
		return e.fail(ctx, r, ErrInternal.WithError(err))
	}
	defer func() {
		if err := pool.Release(h); err != nil {
			e.logger.ErrorContext(ctx, "failed to release request handler",
				logger.Component("engine"),
				logger.App(name),
				logger.WorkerID(h.ID()),
				logger.Error(err))
		}
	}()

	req, err := translate(r, e.maxBody)
	if err != nil {
		return e.fail(ctx, r, ErrMalformedRequest.WithError(err))
	}

	internal := valve.NewResponse()
	if r.Proto != "" {
		internal.Proto = r.Proto
	}
	pool.Serve(h, req, internal)

	resp.copyFrom(internal)
	e.processed.Add(1)

	e.logger.DebugContext(ctx, "request processed",
		logger.Component("engine"),
		logger.App(name),
		logger.Method(r.Method),
		logger.Path(r.URL.Path),
		logger.StatusCode(resp.Status),
		logger.Elapsed(start))
	return nil
}

func (e *Engine) fail(ctx context.Context, r *http.Request, err Error) error {
	e.failed.Add(1)
	e.logger.WarnContext(ctx, "request rejected",
		logger.Component("engine"),
		logger.Host(r.Host),
		logger.Path(r.URL.Path),
		logger.StatusCode(err.Status),
		logger.Error(err))
	return err
}

// Start runs the request handler manager until ctx is cancelled or Stop is
// called. Handler pools are filled before the first request can be served.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine starting",
		logger.Component("engine"),
		slog.String("variant", string(e.variant)),
		logger.Count("applications", e.registry.Len()),
		logger.Count("routes", e.router.Len()))
	return e.workers.Start(ctx)
}

// Stop shuts the handler pools down, letting in-flight requests finish.
func (e *Engine) Stop() error {
	return e.workers.Stop()
}

// Run returns a function suitable for errgroup.
func (e *Engine) Run(ctx context.Context) func() error {
	return e.workers.Run(ctx)
}

// Stats returns current engine statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		Variant:   e.variant,
		Processed: e.processed.Load(),
		Failed:    e.failed.Load(),
		Routing:   e.routing.Load(),
		NotReady:  e.notReady.Load(),
		Exhausted: e.exhausted.Load(),
		Workers:   e.workers.Stats(),
	}
}

// Healthcheck reports whether the handler manager is running and every
// pool is at target size.
func (e *Engine) Healthcheck(ctx context.Context) error {
	if err := e.workers.Healthcheck(ctx); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	for _, a := range e.registry.All() {
		if !a.Connected() {
			return errors.Join(ErrHealthcheckFailed, fmt.Errorf("application %s is not connected", a.Name()))
		}
	}
	return nil
}
