package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/session"
)

func newFileHandler(t *testing.T, opts ...session.FileOption) (*session.FileHandler, string) {
	t.Helper()

	dir := t.TempDir()
	h, err := session.NewFileHandler(dir, opts...)
	require.NoError(t, err)
	return h, dir
}

func TestFileHandler_SaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, dir := newFileHandler(t, session.WithFilePrefix("test_"))

	s := session.New("file-1", "SID", session.Attributes{Path: "/"})
	require.NoError(t, s.Set("a", 1))
	require.NoError(t, h.Save(ctx, s))

	assert.Equal(t, filepath.Join(dir, "test_file-1"), h.Path("file-1"))
	assert.FileExists(t, h.Path("file-1"))

	got, err := h.Load(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, s.Checksum(), got.Checksum())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileHandler_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		h, _ := newFileHandler(t)
		_, err := h.Load(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("invalid id", func(t *testing.T) {
		t.Parallel()

		h, _ := newFileHandler(t)
		_, err := h.Load(ctx, "../escape")
		assert.ErrorIs(t, err, session.ErrInvalidID)
	})

	t.Run("corrupt file is deleted", func(t *testing.T) {
		t.Parallel()

		h, _ := newFileHandler(t)
		require.NoError(t, os.WriteFile(h.Path("broken"), []byte("not a session"), 0o600))

		_, err := h.Load(ctx, "broken")
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.NoFileExists(t, h.Path("broken"))
	})
}

func TestFileHandler_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newFileHandler(t)

	s := session.New("del", "SID", session.Attributes{})
	require.NoError(t, h.Save(ctx, s))
	require.NoError(t, h.Delete(ctx, "del"))
	assert.NoFileExists(t, h.Path("del"))

	assert.NoError(t, h.Delete(ctx, "del"), "missing file is not an error")
}

func TestFileHandler_Expire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	h, dir := newFileHandler(t,
		session.WithFileInactivityTimeout(time.Hour),
		session.WithFileClock(func() time.Time { return now }),
	)

	fresh := session.New("fresh", "SID", session.Attributes{})
	stale := session.New("stale", "SID", session.Attributes{})
	expired := session.New("expired", "SID", session.Attributes{Lifetime: now.Add(-time.Minute)})
	for _, s := range []*session.Session{fresh, stale, expired} {
		require.NoError(t, h.Save(ctx, s))
	}

	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(h.Path("stale"), old, old))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	removed, err := h.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.FileExists(t, h.Path("fresh"))
	assert.NoFileExists(t, h.Path("stale"))
	assert.NoFileExists(t, h.Path("expired"))
	assert.FileExists(t, filepath.Join(dir, "unrelated.txt"))
}

func TestFileHandler_LoadRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newFileHandler(t)

	for _, id := range []string{"recent", "old"} {
		require.NoError(t, h.Save(ctx, session.New(id, "SID", session.Attributes{})))
	}
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(h.Path("old"), old, old))

	sessions, err := h.LoadRecent(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "recent", sessions[0].ID())
}
