package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/appserver/core/logger"
)

// Factory keeps empty sessions pre-allocated off the request path. Handed out
// sessions stay registered under their pool slot until released.
type Factory struct {
	daemon

	size     int
	requests chan chan string
	logger   *slog.Logger

	mu    sync.Mutex
	slots map[string]*Session

	warm    atomic.Int32
	handed  atomic.Int64
	created atomic.Int64
}

// FactoryStats provides observability metrics.
type FactoryStats struct {
	Warm      int32 // pre-allocated sessions waiting to be handed out
	Slots     int   // handed out sessions still registered
	HandedOut int64 // total NextFromPool calls served
	Created   int64 // total sessions allocated
	IsRunning bool
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactorySize sets how many empty sessions are kept warm.
func WithFactorySize(n int) FactoryOption {
	return func(f *Factory) {
		if n > 0 {
			f.size = n
		}
	}
}

// WithFactoryLogger sets the logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFactoryShutdownTimeout bounds Stop.
func WithFactoryShutdownTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.shutdown = d
		}
	}
}

// NewFactory creates a stopped factory. Call Start or Run.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		size:     16,
		requests: make(chan chan string),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		slots:    make(map[string]*Session),
	}
	f.shutdown = 30 * time.Second
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start runs the factory loop until ctx is cancelled or Stop is called.
func (f *Factory) Start(ctx context.Context) error {
	loopCtx, err := f.begin(ctx)
	if err != nil {
		return err
	}
	defer f.end()

	f.logger.InfoContext(loopCtx, "session factory started",
		logger.Component("session_factory"),
		logger.Count("size", f.size))

	warm := make([]*Session, 0, f.size)
	refill := func() {
		for len(warm) < f.size {
			warm = append(warm, newEmpty())
			f.created.Add(1)
		}
		f.warm.Store(int32(len(warm)))
	}
	refill()

	for {
		select {
		case <-loopCtx.Done():
			f.warm.Store(0)
			f.logger.InfoContext(context.Background(), "session factory stopped",
				logger.Component("session_factory"))
			return loopCtx.Err()
		case reply := <-f.requests:
			var s *Session
			if n := len(warm); n > 0 {
				s = warm[n-1]
				warm = warm[:n-1]
			} else {
				s = newEmpty()
				f.created.Add(1)
			}

			slot := uuid.NewString()
			s.mu.Lock()
			s.slot = slot
			s.mu.Unlock()

			f.mu.Lock()
			f.slots[slot] = s
			f.mu.Unlock()

			f.handed.Add(1)
			reply <- slot
			refill()
		}
	}
}

// Stop shuts the loop down, waiting up to the shutdown timeout.
func (f *Factory) Stop() error {
	return f.stop()
}

// Run provides errgroup compatibility.
func (f *Factory) Run(ctx context.Context) func() error {
	return runFunc(ctx, f.Start, f.Stop)
}

// NextFromPool returns an initialized, empty session. The session is
// registered in the pool under a fresh slot id until Release.
func (f *Factory) NextFromPool(ctx context.Context) (*Session, error) {
	if !f.running() {
		return nil, ErrFactoryNotRunning
	}

	reply := make(chan string, 1)
	select {
	case f.requests <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.stopped():
		return nil, ErrFactoryNotRunning
	}

	// The loop answers a received request without blocking, so a cancelled
	// caller still collects the slot and frees it.
	var slot string
	select {
	case slot = <-reply:
	case <-ctx.Done():
		f.Release(<-reply)
		return nil, ctx.Err()
	}

	f.mu.Lock()
	s, ok := f.slots[slot]
	f.mu.Unlock()
	if !ok {
		return nil, errors.Join(ErrFactoryNotRunning, errors.New("slot released before pickup"))
	}
	return s, nil
}

// stopped returns a channel closed once the loop exits.
func (f *Factory) stopped() <-chan struct{} {
	f.daemon.mu.Lock()
	defer f.daemon.mu.Unlock()
	if f.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return f.done
}

// Release frees a pool slot.
func (f *Factory) Release(slot string) {
	if slot == "" {
		return
	}
	f.mu.Lock()
	delete(f.slots, slot)
	f.mu.Unlock()
}

// RemoveBySessionID evicts every slot holding a session with the given id and
// returns how many were removed.
func (f *Factory) RemoveBySessionID(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for slot, s := range f.slots {
		if s.ID() == id {
			delete(f.slots, slot)
			removed++
		}
	}
	return removed
}

// Size returns the number of registered slots.
func (f *Factory) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slots)
}

// Stats returns current factory statistics.
func (f *Factory) Stats() FactoryStats {
	return FactoryStats{
		Warm:      f.warm.Load(),
		Slots:     f.Size(),
		HandedOut: f.handed.Load(),
		Created:   f.created.Load(),
		IsRunning: f.running(),
	}
}
