package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/engine"
	"github.com/dmitrymomot/appserver/core/server"
	"github.com/dmitrymomot/appserver/core/valve"
	"github.com/dmitrymomot/appserver/core/worker"
)

type processorFunc func(r *http.Request, resp *engine.TransportResponse) error

func (f processorFunc) Process(r *http.Request, resp *engine.TransportResponse) error {
	return f(r, resp)
}

func startEngine(t *testing.T, apps ...*app.Application) *engine.Engine {
	t.Helper()

	registry, err := app.NewRegistry(apps...)
	require.NoError(t, err)

	wcfg := worker.DefaultConfig()
	wcfg.PoolSize, wcfg.SpareMin, wcfg.PoolMax = 1, 1, 2
	wcfg.ManagerInterval = 10 * time.Millisecond
	wcfg.ShutdownTimeout = time.Second

	e, err := engine.NewDynamic(registry, engine.WithWorkerConfig(wcfg))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx)() }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return e.Stats().Workers.Passes > 0 }, time.Second, time.Millisecond)
	return e
}

func helloApp(t *testing.T) *app.Application {
	t.Helper()

	hello := valve.Func(func(req *valve.Request, resp *valve.Response) error {
		resp.Header.Set("Content-Type", "text/plain")
		resp.SetCookie(&http.Cookie{Name: "seen", Value: "1", Path: "/"})
		resp.SetStatus(http.StatusAccepted)
		_, _ = resp.WriteString("hello " + req.ServletPath)
		resp.Dispatch()
		return nil
	})
	a, err := app.New("hello", app.WithContextPath("/hello"), app.WithValves(hello), app.WithConnected())
	require.NoError(t, err)
	return a
}

func TestHandler_WritesEngineResponse(t *testing.T) {
	t.Parallel()

	h := server.Handler(startEngine(t, helloApp(t)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://any.test/hello/world", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "hello /world", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "seen=1")
}

func TestHandler_EngineErrors(t *testing.T) {
	t.Parallel()

	h := server.Handler(startEngine(t, helloApp(t)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://any.test/other", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), engine.ErrNoApplication.Message)
}

func TestHandler_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  bool
	}{
		{name: "not ready", err: engine.ErrNotReady, wantStatus: http.StatusServiceUnavailable, wantRetry: true},
		{name: "exhausted", err: engine.ErrHandlerExhausted.WithError(worker.ErrAcquireTimeout), wantStatus: http.StatusServiceUnavailable, wantRetry: true},
		{name: "malformed", err: engine.ErrMalformedRequest, wantStatus: http.StatusBadRequest},
		{name: "foreign error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := server.Handler(processorFunc(func(*http.Request, *engine.TransportResponse) error {
				return tt.err
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After") != "")
		})
	}
}

func TestHandler_UndispatchedResponse(t *testing.T) {
	t.Parallel()

	h := server.Handler(processorFunc(func(*http.Request, *engine.TransportResponse) error {
		return nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_Healthcheck(t *testing.T) {
	t.Parallel()

	var healthy bool
	called := false
	h := server.Handler(
		processorFunc(func(*http.Request, *engine.TransportResponse) error {
			called = true
			return nil
		}),
		server.WithHealthcheck(server.DefaultHealthPath, func(context.Context) error {
			if !healthy {
				return errors.New("pool below target")
			}
			return nil
		}),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.DefaultHealthPath, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "pool below target", rec.Body.String())

	healthy = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.DefaultHealthPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
}
