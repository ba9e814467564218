package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/appserver/core/logger"
)

// Action is the outcome of the persistence decision for one live session.
type Action int

const (
	// ActionNone leaves a hot, unchanged session alone.
	ActionNone Action = iota
	// ActionWriteBack saves a changed session and keeps it live.
	ActionWriteBack
	// ActionDetach saves an idle, unchanged session and drops it from memory.
	ActionDetach
	// ActionDestroy deletes an invalidated session everywhere.
	ActionDestroy
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionWriteBack:
		return "write_back"
	case ActionDetach:
		return "detach"
	case ActionDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// State is the input of Decide for one live session.
type State struct {
	Invalidated bool          // id was cleared by Destroy
	Cached      bool          // a checksum was recorded by an earlier persist
	Changed     bool          // current checksum differs from the cached one
	Inactive    time.Duration // time since last activity
	Timeout     time.Duration // inactivity timeout, 0 disables detaching
	// Stale is set when the session was used after its stored copy was
	// written and that copy is at least half a timeout old. Handlers expire
	// copies by save time, so a busy session with an unchanged payload must
	// be rewritten before its copy is collected.
	Stale bool
}

// Decide maps a session state to an action. Invalidation wins over every
// other condition. A session that was never persisted counts as changed.
// Detaching saves the session, so it also covers a stale copy.
func Decide(st State) Action {
	switch {
	case st.Invalidated:
		return ActionDestroy
	case !st.Cached || st.Changed:
		return ActionWriteBack
	case st.Timeout > 0 && st.Inactive >= st.Timeout:
		return ActionDetach
	case st.Stale:
		return ActionWriteBack
	default:
		return ActionNone
	}
}

// PassStats summarizes one persistence pass.
type PassStats struct {
	Scanned   int
	Written   int
	Detached  int
	Destroyed int
	Failed    int
}

// PersistenceStats provides observability metrics.
type PersistenceStats struct {
	Passes     int64
	Written    int64
	Detached   int64
	Destroyed  int64
	Failed     int64
	Rehydrated int64
	LastPass   time.Time
	IsRunning  bool
}

// PersistenceManager periodically writes dirty sessions back, detaches idle
// ones and deletes invalidated ones.
type PersistenceManager struct {
	daemon

	table    *Table
	sums     *ChecksumCache
	factory  *Factory
	handlers []Handler

	interval          time.Duration
	inactivityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time

	passes     atomic.Int64
	written    atomic.Int64
	detached   atomic.Int64
	destroyed  atomic.Int64
	failed     atomic.Int64
	rehydrated atomic.Int64
	lastPass   atomic.Int64 // unix nanos
}

// PersistenceOption configures a PersistenceManager.
type PersistenceOption func(*PersistenceManager)

// WithPersistInterval sets the pass interval.
func WithPersistInterval(d time.Duration) PersistenceOption {
	return func(p *PersistenceManager) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPersistenceInactivityTimeout overrides the inactivity timeout taken
// from the manager settings. Zero disables detaching.
func WithPersistenceInactivityTimeout(d time.Duration) PersistenceOption {
	return func(p *PersistenceManager) {
		if d >= 0 {
			p.inactivityTimeout = d
		}
	}
}

// WithPersistenceLogger sets the logger.
func WithPersistenceLogger(l *slog.Logger) PersistenceOption {
	return func(p *PersistenceManager) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPersistenceClock overrides the time source.
func WithPersistenceClock(now func() time.Time) PersistenceOption {
	return func(p *PersistenceManager) {
		if now != nil {
			p.now = now
		}
	}
}

// WithPersistenceShutdownTimeout bounds Stop.
func WithPersistenceShutdownTimeout(d time.Duration) PersistenceOption {
	return func(p *PersistenceManager) {
		if d > 0 {
			p.shutdown = d
		}
	}
}

// NewPersistenceManager creates a stopped persistence manager sharing the
// live table, checksum cache, factory and handlers of m.
func NewPersistenceManager(m *Manager, opts ...PersistenceOption) *PersistenceManager {
	settings := m.Settings()
	p := &PersistenceManager{
		table:             m.table,
		sums:              m.sums,
		factory:           m.factory,
		handlers:          m.handlers,
		interval:          settings.PersistInterval,
		inactivityTimeout: settings.InactivityTimeout,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:               time.Now,
	}
	p.shutdown = settings.ShutdownTimeout
	if p.interval <= 0 {
		p.interval = 10 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start rehydrates recent sessions and then runs a pass every interval until
// ctx is cancelled or Stop is called. A final pass runs on shutdown.
func (p *PersistenceManager) Start(ctx context.Context) error {
	loopCtx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end()

	if n, err := p.Rehydrate(loopCtx); err != nil {
		p.logger.ErrorContext(loopCtx, "session rehydration failed",
			logger.Component("session_persistence"),
			logger.Error(err))
	} else if n > 0 {
		p.logger.InfoContext(loopCtx, "sessions rehydrated",
			logger.Component("session_persistence"),
			logger.Count("count", n))
	}

	p.logger.InfoContext(loopCtx, "session persistence started",
		logger.Component("session_persistence"),
		logger.Interval(p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			// Write back whatever changed since the last tick.
			final := p.Pass(context.WithoutCancel(loopCtx))
			p.logger.InfoContext(context.Background(), "session persistence stopped",
				logger.Component("session_persistence"),
				logger.Count("written", final.Written))
			return loopCtx.Err()
		case <-ticker.C:
			p.Pass(loopCtx)
		}
	}
}

// Stop halts the loop, waiting up to the shutdown timeout.
func (p *PersistenceManager) Stop() error {
	return p.stop()
}

// Run returns a function suitable for errgroup.
func (p *PersistenceManager) Run(ctx context.Context) func() error {
	return runFunc(ctx, p.Start, p.Stop)
}

// Rehydrate attaches sessions stored within the inactivity window that are
// still resumable. Sessions already live are left untouched. With the
// inactivity timeout disabled every stored session is considered.
func (p *PersistenceManager) Rehydrate(ctx context.Context) (int, error) {
	now := p.now()
	var since time.Time
	if p.inactivityTimeout > 0 {
		since = now.Add(-p.inactivityTimeout)
	}

	var errs []error
	attached := 0
	for _, h := range p.handlers {
		r, ok := h.(Rehydrator)
		if !ok {
			continue
		}

		sessions, err := r.LoadRecent(ctx, since)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, s := range sessions {
			if !s.Resumable(now) {
				continue
			}
			id := s.ID()
			if p.table.attachIfAbsent(id, s) {
				last := s.LastActivity()
				p.sums.Set(id, Persisted{Checksum: s.Checksum(), Activity: last, SavedAt: last})
				attached++
			}
		}
	}

	p.rehydrated.Add(int64(attached))
	return attached, errors.Join(errs...)
}

// Pass applies Decide to every live session once.
func (p *PersistenceManager) Pass(ctx context.Context) PassStats {
	var stats PassStats
	now := p.now()

	for key, s := range p.table.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++

		action, slot, err := p.persist(ctx, key, s, now)
		if err != nil {
			stats.Failed++
			p.logger.ErrorContext(ctx, "session persistence failed",
				logger.Component("session_persistence"),
				logger.SessionID(key),
				logger.Action(action.String()),
				logger.Error(err))
			continue
		}

		// Released outside the session lock: the factory locks its slots
		// before reading session ids.
		if slot != "" && p.factory != nil {
			p.factory.Release(slot)
		}

		switch action {
		case ActionWriteBack:
			stats.Written++
		case ActionDetach:
			stats.Detached++
		case ActionDestroy:
			stats.Destroyed++
		}
	}

	p.passes.Add(1)
	p.written.Add(int64(stats.Written))
	p.detached.Add(int64(stats.Detached))
	p.destroyed.Add(int64(stats.Destroyed))
	p.failed.Add(int64(stats.Failed))
	p.lastPass.Store(now.UnixNano())

	if stats.Written+stats.Detached+stats.Destroyed+stats.Failed > 0 {
		p.logger.DebugContext(ctx, "session persistence pass",
			logger.Component("session_persistence"),
			logger.Count("scanned", stats.Scanned),
			logger.Count("written", stats.Written),
			logger.Count("detached", stats.Detached),
			logger.Count("destroyed", stats.Destroyed),
			logger.Count("failed", stats.Failed))
	}
	return stats
}

// persist decides and applies the action for the session stored under key
// while holding the session lock. It returns the factory slot to release.
func (p *PersistenceManager) persist(ctx context.Context, key string, s *Session, now time.Time) (Action, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := s.checksumLocked()
	stored, ok := p.sums.Lookup(key)
	action := Decide(State{
		Invalidated: s.id == "",
		Cached:      ok,
		Changed:     ok && stored.Checksum != sum,
		Inactive:    now.Sub(s.lastActivity),
		Timeout:     p.inactivityTimeout,
		Stale: ok && p.inactivityTimeout > 0 &&
			s.lastActivity.After(stored.Activity) &&
			now.Sub(stored.SavedAt) >= p.inactivityTimeout/2,
	})

	switch action {
	case ActionWriteBack:
		if err := p.save(ctx, s.cloneLocked()); err != nil {
			return action, "", err
		}
		p.sums.Set(key, Persisted{Checksum: sum, Activity: s.lastActivity, SavedAt: now})
		return action, "", nil

	case ActionDetach:
		if err := p.save(ctx, s.cloneLocked()); err != nil {
			return action, "", err
		}
		p.table.removeIf(key, s)
		p.sums.Delete(key)
		return action, s.slot, nil

	case ActionDestroy:
		var errs []error
		for _, h := range p.handlers {
			if err := h.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return action, "", err
		}
		p.table.removeIf(key, s)
		p.sums.Delete(key)
		return action, s.slot, nil
	}

	return action, "", nil
}

func (p *PersistenceManager) save(ctx context.Context, s *Session) error {
	var errs []error
	for _, h := range p.handlers {
		if err := h.Save(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns current persistence statistics.
func (p *PersistenceManager) Stats() PersistenceStats {
	stats := PersistenceStats{
		Passes:     p.passes.Load(),
		Written:    p.written.Load(),
		Detached:   p.detached.Load(),
		Destroyed:  p.destroyed.Load(),
		Failed:     p.failed.Load(),
		Rehydrated: p.rehydrated.Load(),
		IsRunning:  p.running(),
	}
	if ns := p.lastPass.Load(); ns > 0 {
		stats.LastPass = time.Unix(0, ns)
	}
	return stats
}

// Healthcheck reports whether the loop is running and passes are on time.
func (p *PersistenceManager) Healthcheck(ctx context.Context) error {
	if !p.running() {
		return errors.Join(ErrHealthcheckFailed, ErrNotRunning)
	}

	stats := p.Stats()
	if !stats.LastPass.IsZero() && p.now().Sub(stats.LastPass) > 3*p.interval {
		return errors.Join(ErrHealthcheckFailed,
			fmt.Errorf("%w: last pass at %s", ErrPassStalled, stats.LastPass.Format(time.RFC3339)))
	}
	return nil
}
