package worker

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/valve"
)

// State is the lifecycle state of a request handler.
type State int32

const (
	StateCreated State = iota
	StateIdle
	StateHandling
	// StateShouldRestart marks a handler whose goroutine died from a panic.
	// It is never handed work again and is removed on the next manager pass.
	StateShouldRestart
	// StateRetired marks a handler that exited after its TTL or request
	// budget ran out.
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateIdle:
		return "idle"
	case StateHandling:
		return "handling"
	case StateShouldRestart:
		return "should_restart"
	case StateRetired:
		return "retired"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// job is one request handed to a handler.
type job struct {
	req  *valve.Request
	resp *valve.Response
	done chan struct{}
}

// Handler is a pooled worker goroutine serving one application. Work arrives
// on a private inbox after the pool has marked the handler as handling.
type Handler struct {
	id     string
	app    *app.Application
	ttl    time.Duration
	budget int
	logger *slog.Logger

	inbox  chan *job
	quit   <-chan struct{}
	notify func()
	exited chan struct{}
	// stop is closed by the pool when it retires a handler whose end was
	// reached while a response was still awaiting release.
	stop     chan struct{}
	stopOnce sync.Once

	state   atomic.Int32
	handled atomic.Int64
	// last is set before the final response is released, so a Release
	// racing with the goroutine exit never restores the handler to idle.
	last atomic.Bool
}

func newHandler(a *app.Application, policy Policy, quit <-chan struct{}, notify func(), l *slog.Logger) *Handler {
	ttl, budget := policy.draw()
	h := &Handler{
		id:     uuid.NewString(),
		app:    a,
		ttl:    ttl,
		budget: budget,
		inbox:  make(chan *job, 1),
		quit:   quit,
		notify: notify,
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	h.logger = l.With(logger.WorkerID(h.id), logger.App(a.Name()))
	h.state.Store(int32(StateCreated))
	return h
}

// ID returns the handler id.
func (h *Handler) ID() string { return h.id }

// State returns the current state.
func (h *Handler) State() State { return State(h.state.Load()) }

// Handled returns how many requests the handler served.
func (h *Handler) Handled() int64 { return h.handled.Load() }

// TTL returns the drawn time to live, zero for unlimited.
func (h *Handler) TTL() time.Duration { return h.ttl }

// Budget returns the drawn request budget, zero for unlimited.
func (h *Handler) Budget() int { return h.budget }

// Done is closed when the handler goroutine exits.
func (h *Handler) Done() <-chan struct{} { return h.exited }

func (h *Handler) cas(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}

// start moves the handler to idle and launches its goroutine.
func (h *Handler) start() {
	h.state.Store(int32(StateIdle))
	go h.run()
}

// submit hands a job to a handler the caller has acquired.
func (h *Handler) submit(j *job) {
	h.inbox <- j
}

func (h *Handler) run() {
	var current *job

	// Shutdown hook: a panic anywhere in the activation flags the handler
	// for retirement and still dispatches the response.
	defer func() {
		if r := recover(); r != nil {
			h.state.Store(int32(StateShouldRestart))
			h.logger.Error("request handler panicked",
				logger.Component("request_handler"),
				logger.Panic(r),
				logger.Stack())

			if current != nil {
				current.resp.Error(http.StatusInternalServerError, fmt.Sprint(r))
				current.resp.Dispatch()
				close(current.done)
			}
		}
		close(h.exited)
		h.notify()
	}()

	var expire <-chan time.Time
	if h.ttl > 0 {
		timer := time.NewTimer(h.ttl)
		defer timer.Stop()
		expire = timer.C
	}
	quit := h.quit

	for {
		select {
		case j := <-h.inbox:
			current = j
			h.handle(j)
			current = nil
			if h.last.Load() {
				return
			}

		case <-expire:
			expire = nil
			if h.retire("ttl expired") {
				return
			}

		case <-quit:
			quit = nil
			if h.retire("pool closed") {
				return
			}

		case <-h.stop:
			h.logger.Debug("request handler retired",
				logger.Component("request_handler"),
				slog.String("reason", "released after end of life"),
				slog.Int64("handled", h.handled.Load()))
			return
		}
	}
}

// halt wakes the goroutine of a retired handler so it exits.
func (h *Handler) halt() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// retire ends an idle handler. A handler that was acquired but has not
// received its job yet serves that job first.
func (h *Handler) retire(reason string) bool {
	if h.cas(StateIdle, StateRetired) {
		h.logger.Debug("request handler retired",
			logger.Component("request_handler"),
			slog.String("reason", reason),
			slog.Int64("handled", h.handled.Load()))
		return true
	}
	h.last.Store(true)
	return false
}

// handle runs the application's valve chain for one request.
func (h *Handler) handle(j *job) {
	req, resp := j.req, j.resp
	ctx := req.Context()

	req.App = h.app.Name()
	if h.app.IsVirtualHost(req.Host) {
		req.SetContextPath("")
	} else {
		req.SetContextPath(h.app.ContextPath())
	}

	if err := valve.Run(h.app.Valves(), req, resp); err != nil {
		h.logger.ErrorContext(ctx, "valve chain failed",
			logger.Component("request_handler"),
			logger.Method(req.Method),
			logger.Path(req.Path),
			logger.Error(err))
		resp.Error(http.StatusInternalServerError, err.Error())
	}

	if resp.Status > 399 {
		if _, err := h.app.ErrorPages().Render(req, resp); err != nil {
			h.logger.ErrorContext(ctx, "error page failed",
				logger.Component("request_handler"),
				logger.StatusCode(resp.Status),
				logger.Error(err))
		}
	}

	n := h.handled.Add(1)
	if h.budget > 0 && n >= int64(h.budget) {
		h.last.Store(true)
	}

	resp.Dispatch()
	close(j.done)
}
