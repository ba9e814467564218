package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/appserver/core/logger"
)

// Manager is the request-facing session facade. It creates, finds, attaches
// and flushes sessions, delegating durability to the configured handlers.
type Manager struct {
	settings Settings
	table    *Table
	sums     *ChecksumCache
	factory  *Factory
	handlers []Handler
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTable shares an existing live table, typically with a PersistenceManager.
func WithTable(t *Table) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.table = t
		}
	}
}

// WithFactory makes Create draw empty sessions from f.
func WithFactory(f *Factory) ManagerOption {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithHandlers sets the durable session handlers, consulted in order.
func WithHandlers(handlers ...Handler) ManagerOption {
	return func(m *Manager) {
		for _, h := range handlers {
			if h != nil {
				m.handlers = append(m.handlers, h)
			}
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager with the given process-wide settings.
func NewManager(settings Settings, opts ...ManagerOption) *Manager {
	m := &Manager{
		settings: settings,
		table:    NewTable(),
		sums:     NewChecksumCache(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithOverrides returns a manager sharing the table, factory and handlers of
// m whose settings are merged with an application's overrides.
func (m *Manager) WithOverrides(o Overrides) *Manager {
	c := *m
	c.settings = m.settings.Merge(o)
	return &c
}

// Settings returns the effective settings.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Table returns the live-session table.
func (m *Manager) Table() *Table {
	return m.table
}

// Checksums returns the cache of last persisted checksums.
func (m *Manager) Checksums() *ChecksumCache {
	return m.sums
}

// Factory returns the configured session factory, or nil.
func (m *Manager) Factory() *Factory {
	return m.factory
}

// Create binds a new, empty session to id and registers it as live. Omitted
// attributes default to the manager's settings. An empty name uses the
// configured cookie name.
func (m *Manager) Create(ctx context.Context, id, name string, opts ...CreateOption) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	if name == "" {
		name = m.settings.Name
	}

	now := m.now()
	attrs := m.settings.attributes(now)
	for _, opt := range opts {
		opt(&attrs)
	}

	s := m.emptySession(ctx)
	s.bind(id, name, attrs, now)

	if err := m.table.Attach(s); err != nil {
		return nil, err
	}
	return s, nil
}

// emptySession takes a pre-warmed session from the factory when one is
// configured and running.
func (m *Manager) emptySession(ctx context.Context) *Session {
	if m.factory == nil {
		return newEmpty()
	}

	s, err := m.factory.NextFromPool(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session factory unavailable, allocating directly",
			logger.Component("session_manager"),
			logger.Error(err))
		return newEmpty()
	}
	return s
}

// Find returns the live or stored session for id if it is resumable.
// It returns ErrNotFound when no copy exists and ErrExpired when the only
// copy found is no longer resumable.
func (m *Manager) Find(ctx context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	now := m.now()

	if s, ok := m.table.Get(id); ok {
		if s.Resumable(now) {
			return s, nil
		}
		return nil, ErrExpired
	}

	expired := false
	for _, h := range m.handlers {
		s, err := h.Load(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.ErrorContext(ctx, "session handler load failed",
					logger.Component("session_manager"),
					logger.SessionID(id),
					logger.Error(err))
			}
			continue
		}
		if !s.Resumable(now) {
			expired = true
			continue
		}

		// A concurrent Find may have attached the same id first.
		if !m.table.attachIfAbsent(id, s) {
			if live, ok := m.table.Get(id); ok {
				return live, nil
			}
		}
		// The save time of a loaded copy is unknown; its last activity is a
		// lower bound for it.
		last := s.LastActivity()
		m.sums.Set(id, Persisted{Checksum: s.Checksum(), Activity: last, SavedAt: last})
		return s, nil
	}

	if expired {
		return nil, ErrExpired
	}
	return nil, ErrNotFound
}

// Attach registers s as live, replacing any session with the same id.
func (m *Manager) Attach(s *Session) error {
	return m.table.Attach(s)
}

// Destroy invalidates the live session for id and removes every stored copy.
// The persistence manager drops the invalidated session from the live table.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}

	// Slots are matched by id, so evict them before Destroy clears it.
	if m.factory != nil {
		m.factory.RemoveBySessionID(id)
	}
	if s, ok := m.table.Get(id); ok {
		s.Destroy()
	}

	var errs []error
	for _, h := range m.handlers {
		if err := h.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush persists every live session through every handler. Sessions saved by
// all handlers have their checksum cached.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for id, s := range m.table.Snapshot() {
		s.mu.Lock()
		snapshot, sum := s.cloneLocked(), s.checksumLocked()
		s.mu.Unlock()
		now := m.now()

		if snapshot.id == "" {
			continue
		}

		saved := true
		for _, h := range m.handlers {
			if err := h.Save(ctx, snapshot); err != nil {
				saved = false
				errs = append(errs, fmt.Errorf("flush session: %w", err))
				m.logger.ErrorContext(ctx, "failed to flush session",
					logger.Component("session_manager"),
					logger.SessionID(id),
					logger.Error(err))
			}
		}
		if saved {
			m.sums.Set(id, Persisted{Checksum: sum, Activity: snapshot.lastActivity, SavedAt: now})
		}
	}
	return errors.Join(errs...)
}
