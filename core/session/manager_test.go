package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/session"
)

func newManager(t *testing.T, opts ...session.ManagerOption) (*session.Manager, *session.FileHandler) {
	t.Helper()

	h, _ := newFileHandler(t)
	settings := session.DefaultSettings()
	settings.Domain = "example.test"
	settings.MaximumAge = 3600

	return session.NewManager(settings, append([]session.ManagerOption{session.WithHandlers(h)}, opts...)...), h
}

func TestManager_Create(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("defaults from settings", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		s, err := m.Create(ctx, "created", "")
		require.NoError(t, err)

		assert.Equal(t, "created", s.ID())
		assert.Equal(t, "SESSID", s.Name())
		attrs := s.Attributes()
		assert.Equal(t, "example.test", attrs.Domain)
		assert.Equal(t, "/", attrs.Path)
		assert.Equal(t, 3600, attrs.MaximumAge)
		assert.True(t, attrs.HTTPOnly)
		assert.True(t, attrs.Lifetime.IsZero())
		assert.Equal(t, 1, m.Table().Len())
	})

	t.Run("explicit attributes win", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		lifetime := time.Now().Add(time.Hour)
		s, err := m.Create(ctx, "custom", "CUSTOM",
			session.WithLifetime(lifetime),
			session.WithMaximumAge(60),
			session.WithDomain("admin.test"),
			session.WithPath("/admin"),
			session.WithSecure(true),
			session.WithHTTPOnly(false),
		)
		require.NoError(t, err)

		attrs := s.Attributes()
		assert.Equal(t, "CUSTOM", s.Name())
		assert.True(t, lifetime.Equal(attrs.Lifetime))
		assert.Equal(t, 60, attrs.MaximumAge)
		assert.Equal(t, "admin.test", attrs.Domain)
		assert.Equal(t, "/admin", attrs.Path)
		assert.True(t, attrs.Secure)
		assert.False(t, attrs.HTTPOnly)
	})

	t.Run("invalid id", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		_, err := m.Create(ctx, "bad id", "")
		assert.ErrorIs(t, err, session.ErrInvalidID)
	})

	t.Run("stopped factory falls back to direct allocation", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t, session.WithFactory(session.NewFactory()))
		s, err := m.Create(ctx, "fallback", "")
		require.NoError(t, err)
		assert.Empty(t, s.Slot())
	})

	t.Run("overrides apply per application", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		name := "ADMINSID"
		admin := m.WithOverrides(session.Overrides{Name: &name})

		s, err := admin.Create(ctx, "admin-1", "")
		require.NoError(t, err)
		assert.Equal(t, "ADMINSID", s.Name())
		assert.Equal(t, "SESSID", m.Settings().Name)
		assert.Same(t, m.Table(), admin.Table())
	})
}

func TestManager_Find(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("live session", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		created, err := m.Create(ctx, "live", "")
		require.NoError(t, err)

		found, err := m.Find(ctx, "live")
		require.NoError(t, err)
		assert.Same(t, created, found)
	})

	t.Run("stored session is attached", func(t *testing.T) {
		t.Parallel()

		m, h := newManager(t)
		stored := session.New("stored", "SESSID", session.Attributes{})
		require.NoError(t, stored.Set("a", 1))
		require.NoError(t, h.Save(ctx, stored))

		found, err := m.Find(ctx, "stored")
		require.NoError(t, err)
		assert.Equal(t, stored.Checksum(), found.Checksum())

		live, ok := m.Table().Get("stored")
		require.True(t, ok)
		assert.Same(t, found, live)

		sum, ok := m.Checksums().Get("stored")
		require.True(t, ok)
		assert.Equal(t, stored.Checksum(), sum)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		_, err := m.Find(ctx, "unknown")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("expired stored session", func(t *testing.T) {
		t.Parallel()

		m, h := newManager(t)
		stored := session.New("old", "SESSID", session.Attributes{Lifetime: time.Now().Add(-time.Second)})
		require.NoError(t, h.Save(ctx, stored))

		_, err := m.Find(ctx, "old")
		assert.ErrorIs(t, err, session.ErrExpired)
		assert.Zero(t, m.Table().Len())
	})

	t.Run("expired live session", func(t *testing.T) {
		t.Parallel()

		m, _ := newManager(t)
		_, err := m.Create(ctx, "short", "", session.WithLifetime(time.Now().Add(-time.Second)))
		require.NoError(t, err)

		_, err = m.Find(ctx, "short")
		assert.ErrorIs(t, err, session.ErrExpired)
	})

	t.Run("concurrent finds share one copy", func(t *testing.T) {
		t.Parallel()

		m, h := newManager(t)
		require.NoError(t, h.Save(ctx, session.New("shared", "SESSID", session.Attributes{})))

		const n = 20
		var wg sync.WaitGroup
		found := make([]*session.Session, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := m.Find(ctx, "shared")
				assert.NoError(t, err)
				found[i] = s
			}()
		}
		wg.Wait()

		live, ok := m.Table().Get("shared")
		require.True(t, ok)
		for _, s := range found {
			assert.Same(t, live, s)
		}
	})
}

func TestManager_Attach(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	first := session.New("dup", "SESSID", session.Attributes{})
	second := session.New("dup", "SESSID", session.Attributes{})

	require.NoError(t, m.Attach(first))
	require.NoError(t, m.Attach(second))

	live, ok := m.Table().Get("dup")
	require.True(t, ok)
	assert.Same(t, second, live)
	assert.Equal(t, 1, m.Table().Len())

	destroyed := session.New("gone", "SESSID", session.Attributes{})
	destroyed.Destroy()
	assert.ErrorIs(t, m.Attach(destroyed), session.ErrInvalidID)
}

func TestManager_Flush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, h := newManager(t)

	for _, id := range []string{"f1", "f2"} {
		s, err := m.Create(ctx, id, "")
		require.NoError(t, err)
		require.NoError(t, s.Set("id", id))
	}

	require.NoError(t, m.Flush(ctx))

	for _, id := range []string{"f1", "f2"} {
		stored, err := h.Load(ctx, id)
		require.NoError(t, err)
		var v string
		require.NoError(t, stored.Get("id", &v))
		assert.Equal(t, id, v)

		_, ok := m.Checksums().Get(id)
		assert.True(t, ok)
	}
}

func TestManager_Destroy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := session.NewFactory()
	startFactory(t, f)
	m, h := newManager(t, session.WithFactory(f))

	s, err := m.Create(ctx, "doomed", "")
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))
	require.FileExists(t, h.Path("doomed"))

	require.Equal(t, 1, f.Size())
	require.NoError(t, m.Destroy(ctx, "doomed"))

	assert.Empty(t, s.ID())
	assert.Zero(t, f.Size(), "slot is evicted when the session is destroyed")
	assert.NoFileExists(t, h.Path("doomed"))

	_, err = m.Find(ctx, "doomed")
	assert.ErrorIs(t, err, session.ErrExpired, "invalidated session stays in the table until the next persistence pass")
}
