package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/logger"
)

// ManagerStats provides observability metrics.
type ManagerStats struct {
	Passes    int64
	Created   int64
	Removed   int64
	LastPass  time.Time
	IsRunning bool
	Pools     []PoolStats
}

// Manager is the single daemon that sizes every application pool. It is the
// only component that adds handlers to or removes handlers from a pool.
type Manager struct {
	pools    []*Pool
	byApp    map[string]*Pool
	interval time.Duration
	shutdown time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	passes   atomic.Int64
	created  atomic.Int64
	removed  atomic.Int64
	lastPass atomic.Int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInterval sets the pass interval.
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithShutdownTimeout bounds Stop.
func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.shutdown = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a stopped manager over pools.
func NewManager(pools []*Pool, opts ...ManagerOption) *Manager {
	cfg := DefaultConfig()
	m := &Manager{
		pools:    pools,
		byApp:    make(map[string]*Pool, len(pools)),
		interval: cfg.ManagerInterval,
		shutdown: cfg.ShutdownTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, p := range pools {
		m.byApp[p.App().Name()] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromConfig creates one pool per application using cfg and a
// manager over them. Applications are kept in registry order.
func NewManagerFromConfig(cfg Config, apps []*app.Application, policy Policy, l *slog.Logger) *Manager {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pools := make([]*Pool, 0, len(apps))
	for _, a := range apps {
		pools = append(pools, NewPool(a,
			WithPolicy(policy),
			WithTarget(cfg.PoolSize),
			WithSpareMin(cfg.SpareMin),
			WithMaxSize(cfg.PoolMax),
			WithPoolLogger(l),
		))
	}
	return NewManager(pools,
		WithInterval(cfg.ManagerInterval),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithLogger(l),
	)
}

// Pool returns the pool of the named application.
func (m *Manager) Pool(appName string) (*Pool, error) {
	p, ok := m.byApp[appName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApplication, appName)
	}
	return p, nil
}

// Pools returns every pool in application order.
func (m *Manager) Pools() []*Pool {
	return append([]*Pool(nil), m.pools...)
}

// Pass prunes flagged handlers and tops every pool up to its target size
// and spare minimum.
func (m *Manager) Pass(ctx context.Context) {
	for _, p := range m.pools {
		removed := p.Prune()
		added := p.Grow(p.Deficit())

		m.removed.Add(int64(removed))
		m.created.Add(int64(added))

		if removed > 0 || added > 0 {
			m.logger.DebugContext(ctx, "request handler pool resized",
				logger.Component("request_handler_manager"),
				logger.App(p.App().Name()),
				logger.Count("removed", removed),
				logger.Count("added", added),
				logger.Count("size", p.Size()))
		}
	}
	m.passes.Add(1)
	m.lastPass.Store(time.Now().UnixNano())
}

// Start runs a pass immediately and then every interval until ctx is
// cancelled or Stop is called. Pools are closed on exit.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		cancel()
		close(done)
	}()

	m.logger.InfoContext(loopCtx, "request handler manager started",
		logger.Component("request_handler_manager"),
		logger.Interval(m.interval),
		logger.Count("pools", len(m.pools)))

	m.Pass(loopCtx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			m.closePools()
			m.logger.InfoContext(context.Background(), "request handler manager stopped",
				logger.Component("request_handler_manager"))
			return loopCtx.Err()
		case <-ticker.C:
			m.Pass(loopCtx)
		}
	}
}

func (m *Manager) closePools() {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdown)
	defer cancel()

	for _, p := range m.pools {
		if err := p.Close(ctx); err != nil {
			m.logger.WarnContext(ctx, "request handlers still busy at shutdown",
				logger.Component("request_handler_manager"),
				logger.App(p.App().Name()),
				logger.Count("working", p.Working()),
				logger.Error(err))
		}
	}
}

// Stop cancels the loop and waits up to the shutdown timeout for in-flight
// requests to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()

	// closePools is bounded by the same timeout; allow a little extra for
	// the loop to return.
	select {
	case <-done:
		return nil
	case <-time.After(m.shutdown + time.Second):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, m.shutdown)
	}
}

// Run returns a function suitable for errgroup.
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- m.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = m.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// IsRunning reports whether the loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Stats returns current statistics for the manager and every pool.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		Passes:    m.passes.Load(),
		Created:   m.created.Load(),
		Removed:   m.removed.Load(),
		IsRunning: m.IsRunning(),
		Pools:     make([]PoolStats, 0, len(m.pools)),
	}
	if ns := m.lastPass.Load(); ns > 0 {
		stats.LastPass = time.Unix(0, ns)
	}
	for _, p := range m.pools {
		stats.Pools = append(stats.Pools, p.Stats())
	}
	return stats
}

// Healthcheck fails when the manager is not running or a pool is below its
// target size after at least one pass.
func (m *Manager) Healthcheck(ctx context.Context) error {
	if !m.IsRunning() {
		return errors.Join(ErrHealthcheckFailed, ErrNotRunning)
	}

	var errs []error
	for _, p := range m.pools {
		s := p.Stats()
		limit := s.Target
		if s.MaxSize > 0 {
			limit = min(limit, s.MaxSize)
		}
		if s.Size < limit {
			errs = append(errs, fmt.Errorf("%w: %s has %d/%d", ErrPoolBelowTarget, s.App, s.Size, limit))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrHealthcheckFailed}, errs...)...)
	}
	return nil
}
