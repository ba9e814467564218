package worker_test

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/valve"
	"github.com/dmitrymomot/appserver/core/worker"
)

// longLived never expires handlers on its own.
var longLived = worker.Policy{}

func newApp(t *testing.T, opts ...app.Option) *app.Application {
	t.Helper()

	a, err := app.New("shop", append([]app.Option{app.WithConnected()}, opts...)...)
	require.NoError(t, err)
	return a
}

func newPool(t *testing.T, a *app.Application, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()

	p := worker.NewPool(a, append([]worker.PoolOption{worker.WithPolicy(longLived)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func serve(t *testing.T, p *worker.Pool, host, path string) (*valve.Request, *valve.Response, *worker.Handler) {
	t.Helper()

	h, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	req := valve.NewRequest(context.Background())
	req.Host, req.Path = host, path
	resp := valve.NewResponse()

	p.Serve(h, req, resp)
	require.NoError(t, p.Release(h))
	return req, resp, h
}

var okValve = valve.Func(func(_ *valve.Request, resp *valve.Response) error {
	_, _ = resp.WriteString("ok")
	resp.Dispatch()
	return nil
})

func TestPool_Acquire(t *testing.T) {
	t.Parallel()

	t.Run("times out on an empty pool", func(t *testing.T) {
		t.Parallel()

		p := newPool(t, newApp(t))
		start := time.Now()
		_, err := p.Acquire(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, worker.ErrAcquireTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, int64(1), p.Stats().TimedOut)
	})

	t.Run("respects context", func(t *testing.T) {
		t.Parallel()

		p := newPool(t, newApp(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Acquire(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("waiter wakes on release", func(t *testing.T) {
		t.Parallel()

		p := newPool(t, newApp(t, app.WithValves(okValve)))
		require.Equal(t, 1, p.Grow(1))

		first, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)

		got := make(chan *worker.Handler, 1)
		go func() {
			h, err := p.Acquire(context.Background(), 2*time.Second)
			assert.NoError(t, err)
			got <- h
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, p.Release(first))

		select {
		case h := <-got:
			assert.Same(t, first, h)
			require.NoError(t, p.Release(h))
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	})

	t.Run("mutual exclusion", func(t *testing.T) {
		t.Parallel()

		const size = 5
		p := newPool(t, newApp(t))
		require.Equal(t, size, p.Grow(size))

		var (
			mu       sync.Mutex
			acquired = make(map[string]int)
			held     []*worker.Handler
			timeouts int
			wg       sync.WaitGroup
		)
		for range 3 * size {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := p.Acquire(context.Background(), 50*time.Millisecond)
				mu.Lock()
				defer mu.Unlock()
				if errors.Is(err, worker.ErrAcquireTimeout) {
					timeouts++
					return
				}
				if assert.NoError(t, err) {
					acquired[h.ID()]++
					held = append(held, h)
				}
			}()
		}
		wg.Wait()

		assert.Len(t, acquired, size)
		for id, n := range acquired {
			assert.Equal(t, 1, n, "handler %s acquired twice", id)
		}
		assert.Equal(t, 2*size, timeouts)
		assert.Equal(t, size, p.Working())
		assert.Zero(t, p.Spare())

		for _, h := range held {
			require.NoError(t, p.Release(h))
		}
	})

	t.Run("release of foreign handler", func(t *testing.T) {
		t.Parallel()

		a := newApp(t)
		p1, p2 := newPool(t, a), newPool(t, a)
		p1.Grow(1)

		h, err := p1.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		assert.ErrorIs(t, p2.Release(h), worker.ErrNotAcquired)
		require.NoError(t, p1.Release(h))
		assert.ErrorIs(t, p1.Release(h), worker.ErrNotAcquired)
	})
}

func TestHandler_Execution(t *testing.T) {
	t.Parallel()

	t.Run("valve error renders 500 and handler stays usable", func(t *testing.T) {
		t.Parallel()

		var reached bool
		failing := valve.Func(func(_ *valve.Request, resp *valve.Response) error {
			_, _ = resp.WriteString("partial")
			return errors.New("inventory service unavailable")
		})
		after := valve.Func(func(*valve.Request, *valve.Response) error {
			reached = true
			return nil
		})

		p := newPool(t, newApp(t, app.WithValves(failing, after)))
		p.Grow(1)

		_, resp, h := serve(t, p, "shop.test", "/cart")

		assert.Equal(t, http.StatusInternalServerError, resp.Status)
		assert.Equal(t, "inventory service unavailable", string(resp.Body()))
		assert.True(t, resp.Dispatched())
		assert.False(t, reached, "chain halts after an error")
		assert.Equal(t, worker.StateIdle, h.State())

		next, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Same(t, h, next)
		require.NoError(t, p.Release(next))
	})

	t.Run("chain without dispatch is still dispatched", func(t *testing.T) {
		t.Parallel()

		noop := valve.Func(func(*valve.Request, *valve.Response) error { return nil })
		p := newPool(t, newApp(t, app.WithValves(noop)))
		p.Grow(1)

		_, resp, _ := serve(t, p, "shop.test", "/")
		assert.True(t, resp.Dispatched())
		assert.Equal(t, http.StatusOK, resp.Status)
	})

	t.Run("context path by virtual host", func(t *testing.T) {
		t.Parallel()

		p := newPool(t, newApp(t,
			app.WithVirtualHosts("shop.test"),
			app.WithContextPath("/shop"),
			app.WithValves(okValve),
		))
		p.Grow(1)

		req, _, _ := serve(t, p, "shop.test", "/shop/cart")
		assert.Empty(t, req.ContextPath)
		assert.Equal(t, "/shop/cart", req.ServletPath)
		assert.Equal(t, "shop", req.App)

		req, _, _ = serve(t, p, "other.test", "/shop/cart")
		assert.Equal(t, "/shop", req.ContextPath)
		assert.Equal(t, "/cart", req.ServletPath)
	})

	t.Run("error page for status above 399", func(t *testing.T) {
		t.Parallel()

		notFound := valve.Func(func(_ *valve.Request, resp *valve.Response) error {
			resp.SetStatus(http.StatusNotFound)
			resp.Dispatch()
			return nil
		})
		page := template.Must(template.New("404").Parse(`missing {{.Path}}`))

		p := newPool(t, newApp(t, app.WithValves(notFound), app.WithErrorPage("404", page)))
		p.Grow(1)

		_, resp, _ := serve(t, p, "shop.test", "/nope")
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Equal(t, "missing /nope", string(resp.Body()))
	})

	t.Run("panic flags handler for restart", func(t *testing.T) {
		t.Parallel()

		crash := valve.Func(func(*valve.Request, *valve.Response) error {
			panic("corrupted state")
		})

		p := newPool(t, newApp(t, app.WithValves(crash)))
		p.Grow(1)

		_, resp, h := serve(t, p, "shop.test", "/")

		assert.Equal(t, http.StatusInternalServerError, resp.Status)
		assert.Equal(t, "corrupted state", string(resp.Body()))
		assert.True(t, resp.Dispatched())
		assert.Equal(t, worker.StateShouldRestart, h.State())

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("handler goroutine did not exit")
		}

		_, err := p.Acquire(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, worker.ErrAcquireTimeout, "flagged handler is never acquired")

		assert.Equal(t, 1, p.Prune())
		assert.Zero(t, p.Size())
	})
}

func TestHandler_Lifetime(t *testing.T) {
	t.Parallel()

	t.Run("single shot handler retires after one request", func(t *testing.T) {
		t.Parallel()

		p := newPool(t, newApp(t, app.WithValves(okValve)), worker.WithPolicy(longLived.SingleShot()))
		p.Grow(1)

		_, resp, h := serve(t, p, "shop.test", "/")
		assert.Equal(t, "ok", string(resp.Body()))
		assert.Equal(t, worker.StateRetired, h.State())
		assert.Equal(t, int64(1), h.Handled())

		<-h.Done()
		_, err := p.Acquire(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, worker.ErrAcquireTimeout)
	})

	t.Run("request budget", func(t *testing.T) {
		t.Parallel()

		policy := worker.Policy{MaxRequestsMin: 3, MaxRequestsMax: 3}
		p := newPool(t, newApp(t, app.WithValves(okValve)), worker.WithPolicy(policy))
		p.Grow(1)

		var h *worker.Handler
		for range 3 {
			_, _, h = serve(t, p, "shop.test", "/")
		}
		assert.Equal(t, 3, h.Budget())
		assert.Equal(t, worker.StateRetired, h.State())
	})

	t.Run("ttl expiry retires idle handler", func(t *testing.T) {
		t.Parallel()

		policy := worker.Policy{TTLMin: 10 * time.Millisecond, TTLMax: 10 * time.Millisecond}
		p := newPool(t, newApp(t), worker.WithPolicy(policy))
		p.Grow(1)

		h := p.Handlers()[0]
		assert.Equal(t, 10*time.Millisecond, h.TTL())
		require.Eventually(t, func() bool { return h.State() == worker.StateRetired }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, p.Prune())
	})

	t.Run("ttl expiring before release exits the handler", func(t *testing.T) {
		t.Parallel()

		policy := worker.Policy{TTLMin: 30 * time.Millisecond, TTLMax: 30 * time.Millisecond}
		p := worker.NewPool(newApp(t, app.WithValves(okValve)), worker.WithPolicy(policy))
		p.Grow(1)

		h, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		p.Serve(h, valve.NewRequest(context.Background()), valve.NewResponse())

		// The TTL fires while the response is still held by the caller.
		time.Sleep(90 * time.Millisecond)
		require.NoError(t, p.Release(h))
		assert.Equal(t, worker.StateRetired, h.State())

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("handler goroutine still running after release")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, p.Close(ctx))
	})

	t.Run("randomized lifetime stays in range", func(t *testing.T) {
		t.Parallel()

		policy := worker.Policy{
			TTLMin: time.Minute, TTLMax: 2 * time.Minute,
			MaxRequestsMin: 10, MaxRequestsMax: 20,
		}
		p := newPool(t, newApp(t), worker.WithPolicy(policy))
		p.Grow(20)

		for _, h := range p.Handlers() {
			assert.GreaterOrEqual(t, h.TTL(), time.Minute)
			assert.LessOrEqual(t, h.TTL(), 2*time.Minute)
			assert.GreaterOrEqual(t, h.Budget(), 10)
			assert.LessOrEqual(t, h.Budget(), 20)
		}
	})
}

func TestPool_Close(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(newApp(t, app.WithValves(okValve)), worker.WithPolicy(longLived))
	p.Grow(3)

	busy, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- p.Close(context.Background()) }()

	// The acquired handler still serves its request.
	req := valve.NewRequest(context.Background())
	resp := valve.NewResponse()
	p.Serve(busy, req, resp)
	assert.Equal(t, "ok", string(resp.Body()))
	require.NoError(t, p.Release(busy))

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}

	_, err = p.Acquire(context.Background(), time.Second)
	assert.ErrorIs(t, err, worker.ErrPoolClosed)
	assert.Zero(t, p.Grow(1))
}
