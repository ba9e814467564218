package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/appserver/core/logger"
)

// GCStats provides observability metrics.
type GCStats struct {
	Passes    int64
	Hits      int64
	Expired   int64
	Failed    int64
	IsRunning bool
}

// GarbageCollector periodically sweeps expired sessions from every handler.
// Each pass only sweeps with the configured probability, spreading the cost
// of a full sweep over many intervals.
type GarbageCollector struct {
	daemon

	handlers          []Handler
	interval          time.Duration
	probability       float64
	inactivityTimeout time.Duration
	random            func() float64
	logger            *slog.Logger

	passes  atomic.Int64
	hits    atomic.Int64
	expired atomic.Int64
	failed  atomic.Int64
}

// GCOption configures a GarbageCollector.
type GCOption func(*GarbageCollector)

// WithGCInterval sets the pass interval.
func WithGCInterval(d time.Duration) GCOption {
	return func(g *GarbageCollector) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithGCProbability sets the per-pass sweep probability, clamped to [0, 1].
func WithGCProbability(p float64) GCOption {
	return func(g *GarbageCollector) {
		g.probability = min(max(p, 0), 1)
	}
}

// WithGCRandom overrides the random source used for the per-pass draw.
func WithGCRandom(fn func() float64) GCOption {
	return func(g *GarbageCollector) {
		if fn != nil {
			g.random = fn
		}
	}
}

// WithGCInactivityTimeout overrides the inactivity timeout taken from the
// manager settings. Zero disables collection.
func WithGCInactivityTimeout(d time.Duration) GCOption {
	return func(g *GarbageCollector) {
		if d >= 0 {
			g.inactivityTimeout = d
		}
	}
}

// WithGCLogger sets the logger.
func WithGCLogger(l *slog.Logger) GCOption {
	return func(g *GarbageCollector) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithGCShutdownTimeout bounds Stop.
func WithGCShutdownTimeout(d time.Duration) GCOption {
	return func(g *GarbageCollector) {
		if d > 0 {
			g.shutdown = d
		}
	}
}

// NewGarbageCollector creates a stopped collector sweeping the handlers of m.
func NewGarbageCollector(m *Manager, opts ...GCOption) *GarbageCollector {
	settings := m.Settings()
	g := &GarbageCollector{
		handlers:          m.handlers,
		interval:          settings.GCInterval,
		probability:       min(max(settings.GCProbability, 0), 1),
		inactivityTimeout: settings.InactivityTimeout,
		random:            rand.Float64,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	g.shutdown = settings.ShutdownTimeout
	if g.interval <= 0 {
		g.interval = time.Minute
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether collection is active.
func (g *GarbageCollector) Enabled() bool {
	return g.inactivityTimeout > 0
}

// Start runs a pass every interval until ctx is cancelled or Stop is called.
// With collection disabled it logs and returns immediately.
func (g *GarbageCollector) Start(ctx context.Context) error {
	if !g.Enabled() {
		g.logger.InfoContext(ctx, "session garbage collector not started",
			logger.Component("session_gc"),
			logger.Error(ErrGCDisabled))
		return nil
	}

	loopCtx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer g.end()

	g.logger.InfoContext(loopCtx, "session garbage collector started",
		logger.Component("session_gc"),
		logger.Interval(g.interval),
		slog.Float64("probability", g.probability))

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			g.logger.InfoContext(context.Background(), "session garbage collector stopped",
				logger.Component("session_gc"))
			return loopCtx.Err()
		case <-ticker.C:
			if _, err := g.Pass(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.ErrorContext(loopCtx, "session garbage collection failed",
					logger.Component("session_gc"),
					logger.Error(err))
			}
		}
	}
}

// Stop halts the loop, waiting up to the shutdown timeout. Stopping a
// disabled collector is a no-op.
func (g *GarbageCollector) Stop() error {
	if !g.Enabled() {
		return nil
	}
	return g.stop()
}

// Run returns a function suitable for errgroup.
func (g *GarbageCollector) Run(ctx context.Context) func() error {
	return runFunc(ctx, g.Start, g.Stop)
}

// Pass draws once and, on a hit, sweeps every handler. It returns the number
// of sessions removed.
func (g *GarbageCollector) Pass(ctx context.Context) (int, error) {
	if !g.Enabled() {
		return 0, ErrGCDisabled
	}

	g.passes.Add(1)
	if g.random() >= g.probability {
		return 0, nil
	}
	g.hits.Add(1)

	var errs []error
	total := 0
	for _, h := range g.handlers {
		n, err := h.Expire(ctx)
		total += n
		if err != nil {
			g.failed.Add(1)
			errs = append(errs, err)
		}
	}
	g.expired.Add(int64(total))

	g.logger.InfoContext(ctx, "expired sessions removed",
		logger.Component("session_gc"),
		logger.Count("removed", total))

	return total, errors.Join(errs...)
}

// Stats returns current collector statistics.
func (g *GarbageCollector) Stats() GCStats {
	return GCStats{
		Passes:    g.passes.Load(),
		Hits:      g.hits.Load(),
		Expired:   g.expired.Load(),
		Failed:    g.failed.Load(),
		IsRunning: g.running(),
	}
}

// Healthcheck reports whether the collector is running. A disabled collector
// is always healthy.
func (g *GarbageCollector) Healthcheck(ctx context.Context) error {
	if !g.Enabled() {
		return nil
	}
	if !g.running() {
		return errors.Join(ErrHealthcheckFailed, ErrNotRunning)
	}
	return nil
}
