package app_test

import (
	"context"
	"html/template"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/session"
	"github.com/dmitrymomot/appserver/core/valve"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		a, err := app.New("shop")
		require.NoError(t, err)
		assert.Equal(t, "shop", a.Name())
		assert.Empty(t, a.ContextPath())
		assert.False(t, a.Connected())
	})

	t.Run("empty name", func(t *testing.T) {
		t.Parallel()

		_, err := app.New("  ")
		assert.ErrorIs(t, err, app.ErrEmptyName)
	})

	t.Run("context path normalized", func(t *testing.T) {
		t.Parallel()

		a, err := app.New("admin", app.WithContextPath("/admin/"))
		require.NoError(t, err)
		assert.Equal(t, "/admin", a.ContextPath())

		root, err := app.New("root", app.WithContextPath("/"))
		require.NoError(t, err)
		assert.Empty(t, root.ContextPath())
	})

	t.Run("invalid context path", func(t *testing.T) {
		t.Parallel()

		_, err := app.New("admin", app.WithContextPath("admin"))
		assert.ErrorIs(t, err, app.ErrInvalidContextPath)
	})

	t.Run("invalid virtual hosts", func(t *testing.T) {
		t.Parallel()

		for _, h := range []string{"", "a/b", "a*.test", "*test", "x.*.test"} {
			_, err := app.New("shop", app.WithVirtualHosts(h))
			assert.ErrorIs(t, err, app.ErrInvalidVirtualHost, h)
		}
	})

	t.Run("connect lifecycle", func(t *testing.T) {
		t.Parallel()

		a, err := app.New("shop", app.WithConnected())
		require.NoError(t, err)
		assert.True(t, a.Connected())
		a.Disconnect()
		assert.False(t, a.Connected())
		a.Connect()
		assert.True(t, a.Connected())
	})

	t.Run("session valve uses overrides", func(t *testing.T) {
		t.Parallel()

		name := "SHOPSID"
		m := session.NewManager(session.DefaultSettings())
		a, err := app.New("shop",
			app.WithSessionOverrides(session.Overrides{Name: &name}),
			app.WithSessions(m),
		)
		require.NoError(t, err)
		require.Len(t, a.Valves(), 1)

		req, resp := valve.NewRequest(context.Background()), valve.NewResponse()
		require.NoError(t, a.Valves()[0].Invoke(req, resp))
		require.Len(t, resp.Cookies, 1)
		assert.Equal(t, "SHOPSID", resp.Cookies[0].Name)
	})
}

func TestApplication_IsVirtualHost(t *testing.T) {
	t.Parallel()

	a, err := app.New("shop", app.WithVirtualHosts("shop.test", "*.shop.example"))
	require.NoError(t, err)

	tests := map[string]bool{
		"shop.test":        true,
		"SHOP.test:8080":   true,
		"eu.shop.example":  true,
		"a.b.shop.example": false,
		"shop.example":     false,
		"other.test":       false,
		"[::1]:8080":       false,
		"www.shop.test":    false,
	}
	for host, want := range tests {
		assert.Equal(t, want, a.IsVirtualHost(host), host)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	shop, err := app.New("shop")
	require.NoError(t, err)
	admin, err := app.New("admin")
	require.NoError(t, err)
	dup, err := app.New("shop")
	require.NoError(t, err)

	r, err := app.NewRegistry(shop, admin)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []*app.Application{shop, admin}, r.All())
	assert.ErrorIs(t, r.Register(dup), app.ErrDuplicateName)
	assert.ErrorIs(t, r.Register(nil), app.ErrEmptyName)

	got, err := r.Get("admin")
	require.NoError(t, err)
	assert.Same(t, admin, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, app.ErrNotFound)
}

func TestErrorPages(t *testing.T) {
	t.Parallel()

	notFound := template.Must(template.New("404").Parse(`<h1>{{.Status}} {{.Reason}}</h1><p>{{.Path}}</p>`))
	serverError := template.Must(template.New("5xx").Parse(`<pre>{{.Message}}</pre>`))
	broken := template.Must(template.New("broken").Parse(`{{template "missing"}}`))

	pages := app.NewErrorPages()
	require.NoError(t, pages.Set("404", notFound))
	require.NoError(t, pages.Set("5xx", serverError))
	require.NoError(t, pages.Set("418", broken))

	assert.ErrorIs(t, pages.Set("abc", notFound), app.ErrInvalidErrorPage)
	assert.ErrorIs(t, pages.Set("6xx", notFound), app.ErrInvalidErrorPage)
	assert.ErrorIs(t, pages.Set("404", nil), app.ErrInvalidErrorPage)

	render := func(status int, body string) (*valve.Response, bool, error) {
		req := valve.NewRequest(context.Background())
		req.App = "shop"
		req.Path = "/missing"
		resp := valve.NewResponse()
		resp.SetStatus(status)
		_, _ = resp.WriteString(body)
		ok, err := pages.Render(req, resp)
		return resp, ok, err
	}

	t.Run("exact status", func(t *testing.T) {
		t.Parallel()

		resp, ok, err := render(http.StatusNotFound, "")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "<h1>404 Not Found</h1><p>/missing</p>", string(resp.Body()))
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	})

	t.Run("status class escapes message", func(t *testing.T) {
		t.Parallel()

		resp, ok, err := render(http.StatusBadGateway, "<boom>")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "<pre>&lt;boom&gt;</pre>", string(resp.Body()))
	})

	t.Run("no page", func(t *testing.T) {
		t.Parallel()

		resp, ok, err := render(http.StatusForbidden, "denied")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "denied", string(resp.Body()))
	})

	t.Run("template failure leaves response", func(t *testing.T) {
		t.Parallel()

		resp, ok, err := render(http.StatusTeapot, "tea")
		assert.Error(t, err)
		assert.False(t, ok)
		assert.Equal(t, "tea", string(resp.Body()))
	})
}
