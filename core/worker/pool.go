package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/valve"
)

// PoolStats is a point-in-time view of one application pool.
type PoolStats struct {
	App        string
	Size       int
	Spare      int
	Working    int
	Flagged    int // handlers awaiting removal
	Created    int64
	Removed    int64
	Acquired   int64
	TimedOut   int64
	Target     int
	SpareMin   int
	MaxSize    int
	Exhausted  bool
	LastChange time.Time
}

// Pool holds the request handlers of one application. A single mutex guards
// membership and the working set; acquisition marks a handler working with a
// compare-and-swap on its state while holding that mutex.
type Pool struct {
	app    *app.Application
	policy Policy
	logger *slog.Logger

	target   int
	spareMin int
	maxSize  int

	mu       sync.Mutex
	handlers []*Handler
	working  map[string]*Handler
	wake     chan struct{}
	quit     chan struct{}
	closed   bool

	created    int64
	removed    int64
	acquired   int64
	timedOut   int64
	lastChange time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger used by the pool and its handlers.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPolicy sets the handler lifetime policy.
func WithPolicy(policy Policy) PoolOption {
	return func(p *Pool) {
		p.policy = policy
	}
}

// WithTarget sets the minimum pool size.
func WithTarget(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.target = n
		}
	}
}

// WithSpareMin sets the minimum number of idle handlers.
func WithSpareMin(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.spareMin = n
		}
	}
}

// WithMaxSize caps the pool size. Zero means unbounded.
func WithMaxSize(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.maxSize = n
		}
	}
}

// NewPool creates an empty pool for a. Handlers are only created by
// Grow, which the manager calls.
func NewPool(a *app.Application, opts ...PoolOption) *Pool {
	cfg := DefaultConfig()
	p := &Pool{
		app:      a,
		policy:   PolicyFromConfig(cfg),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		target:   cfg.PoolSize,
		spareMin: cfg.SpareMin,
		maxSize:  cfg.PoolMax,
		working:  make(map[string]*Handler),
		wake:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// App returns the application served by the pool.
func (p *Pool) App() *app.Application { return p.app }

// broadcast wakes every goroutine waiting in Acquire.
func (p *Pool) broadcast() {
	p.mu.Lock()
	p.broadcastLocked()
	p.mu.Unlock()
}

func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Acquire marks an idle handler as working and returns it. It waits for a
// handler to become idle until timeout elapses or ctx is done.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Handler, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		for _, h := range p.handlers {
			if _, busy := p.working[h.id]; busy {
				continue
			}
			if h.cas(StateIdle, StateHandling) {
				p.working[h.id] = h
				p.acquired++
				p.mu.Unlock()
				return h, nil
			}
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			p.mu.Lock()
			p.timedOut++
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release clears h from the working set. A handler that is still healthy
// returns to idle; one that panicked or reached its end stays out of
// rotation until the manager removes it.
func (p *Pool) Release(h *Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.working[h.id]; !ok {
		return ErrNotAcquired
	}
	delete(p.working, h.id)

	if h.last.Load() {
		h.cas(StateHandling, StateRetired)
		h.halt()
	} else {
		h.cas(StateHandling, StateIdle)
	}
	p.broadcastLocked()
	return nil
}

// Serve hands req and resp to an acquired handler and waits until the
// response is dispatched.
func (p *Pool) Serve(h *Handler, req *valve.Request, resp *valve.Response) {
	j := &job{req: req, resp: resp, done: make(chan struct{})}
	h.submit(j)
	<-j.done
}

// Grow starts n new handlers and returns how many were added. It respects
// the maximum size.
func (p *Pool) Grow(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || n <= 0 {
		return 0
	}
	if p.maxSize > 0 {
		n = min(n, p.maxSize-len(p.handlers))
	}

	added := 0
	for range n {
		h := newHandler(p.app, p.policy, p.quit, p.broadcast, p.logger)
		h.start()
		p.handlers = append(p.handlers, h)
		added++
	}
	if added > 0 {
		p.created += int64(added)
		p.lastChange = time.Now()
		p.broadcastLocked()
	}
	return added
}

// Prune removes handlers flagged for restart or retired. Handlers still in
// the working set are kept until released.
func (p *Pool) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.handlers[:0]
	removed := 0
	for _, h := range p.handlers {
		_, busy := p.working[h.id]
		switch h.State() {
		case StateShouldRestart, StateRetired:
			if !busy {
				removed++
				continue
			}
		}
		kept = append(kept, h)
	}
	clear(p.handlers[len(kept):])
	p.handlers = kept

	if removed > 0 {
		p.removed += int64(removed)
		p.lastChange = time.Now()
	}
	return removed
}

// Deficit returns how many handlers the next manager pass will create.
func (p *Pool) Deficit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deficitLocked()
}

func (p *Pool) deficitLocked() int {
	size, spare := len(p.handlers), p.spareLocked()
	return max(0, p.target-size, p.spareMin-spare)
}

// Size returns the number of handlers in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// Spare returns the number of idle handlers.
func (p *Pool) Spare() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spareLocked()
}

func (p *Pool) spareLocked() int {
	spare := 0
	for _, h := range p.handlers {
		if h.State() == StateIdle {
			spare++
		}
	}
	return spare
}

// Working returns the number of handlers serving a request.
func (p *Pool) Working() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.working)
}

// Handlers returns a snapshot of the pool members.
func (p *Pool) Handlers() []*Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Handler(nil), p.handlers...)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		App:        p.app.Name(),
		Size:       len(p.handlers),
		Spare:      p.spareLocked(),
		Working:    len(p.working),
		Created:    p.created,
		Removed:    p.removed,
		Acquired:   p.acquired,
		TimedOut:   p.timedOut,
		Target:     p.target,
		SpareMin:   p.spareMin,
		MaxSize:    p.maxSize,
		LastChange: p.lastChange,
	}
	for _, h := range p.handlers {
		switch h.State() {
		case StateShouldRestart, StateRetired:
			stats.Flagged++
		}
	}
	stats.Exhausted = stats.Spare == 0 && p.maxSize > 0 && stats.Size >= p.maxSize
	return stats
}

// Close stops accepting acquisitions and tells idle handlers to exit.
// Handlers serving a request finish it first. Close waits until every
// handler goroutine has exited or ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.quit)
	handlers := append([]*Handler(nil), p.handlers...)
	p.broadcastLocked()
	p.mu.Unlock()

	for _, h := range handlers {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
