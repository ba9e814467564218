package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrymomot/appserver/core/logger"
)

// Compile-time checks.
var (
	_ Handler    = (*FileHandler)(nil)
	_ Rehydrator = (*FileHandler)(nil)
)

// FileHandler stores one file per session under a directory. File names are
// the configured prefix followed by the session id.
type FileHandler struct {
	dir               string
	prefix            string
	inactivityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// FileOption configures a FileHandler.
type FileOption func(*FileHandler)

// WithFilePrefix sets the file name prefix.
func WithFilePrefix(prefix string) FileOption {
	return func(h *FileHandler) {
		h.prefix = prefix
	}
}

// WithFileInactivityTimeout makes Expire remove files untouched for longer
// than d. Zero disables inactivity-based removal.
func WithFileInactivityTimeout(d time.Duration) FileOption {
	return func(h *FileHandler) {
		if d >= 0 {
			h.inactivityTimeout = d
		}
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(h *FileHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithFileClock overrides the time source.
func WithFileClock(now func() time.Time) FileOption {
	return func(h *FileHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewFileHandler creates the save directory if needed.
func NewFileHandler(dir string, opts ...FileOption) (*FileHandler, error) {
	h := &FileHandler{
		dir:    dir,
		prefix: "sess_",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session save path %s: %w", dir, err)
	}
	return h, nil
}

// NewFileHandlerFromSettings creates a FileHandler using SavePath,
// FilePrefix and InactivityTimeout from settings.
func NewFileHandlerFromSettings(s Settings, opts ...FileOption) (*FileHandler, error) {
	allOpts := append([]FileOption{
		WithFilePrefix(s.FilePrefix),
		WithFileInactivityTimeout(s.InactivityTimeout),
	}, opts...)
	return NewFileHandler(s.SavePath, allOpts...)
}

// Path returns the file path used for id.
func (h *FileHandler) Path(id string) string {
	return filepath.Join(h.dir, h.prefix+id)
}

// Load reads and decodes the session file. Corrupt files are deleted and
// reported as ErrNotFound.
func (h *FileHandler) Load(ctx context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	return h.load(ctx, h.Path(id))
}

func (h *FileHandler) load(ctx context.Context, path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	s, err := Unmarshal(string(b))
	if err != nil {
		h.logger.WarnContext(ctx, "removing corrupt session file",
			logger.Component("session_file_handler"),
			logger.Path(path),
			logger.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove corrupt session file: %w", rmErr)
		}
		return nil, ErrNotFound
	}
	return s, nil
}

// Save marshals s and writes it atomically.
func (h *FileHandler) Save(ctx context.Context, s *Session) error {
	s.mu.Lock()
	id := s.id
	data, err := s.marshalLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if !ValidID(id) {
		return ErrInvalidID
	}
	return h.write(h.Path(id), data)
}

// write replaces path through a temp file and rename, so readers never see a
// partially written session.
func (h *FileHandler) write(path, data string) error {
	tmp, err := os.CreateTemp(h.dir, ".tmp-"+h.prefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create session temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move session file into place: %w", err)
	}
	return nil
}

// Delete removes the file for id.
func (h *FileHandler) Delete(_ context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if err := os.Remove(h.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Expire removes files that are older than the inactivity timeout or whose
// session is no longer resumable.
func (h *FileHandler) Expire(ctx context.Context) (int, error) {
	now := h.now()
	removed := 0

	err := h.walk(func(path string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		stale := h.inactivityTimeout > 0 && now.Sub(info.ModTime()) >= h.inactivityTimeout
		if !stale {
			s, err := h.load(ctx, path)
			switch {
			case errors.Is(err, ErrNotFound):
				// Corrupt files are already gone.
				return nil
			case err != nil:
				return err
			}
			stale = !s.Resumable(now)
		}
		if !stale {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove expired session file: %w", err)
		}
		removed++
		return nil
	})

	return removed, err
}

// LoadRecent returns sessions whose files were modified at or after since.
// Files that fail to decode are deleted and skipped.
func (h *FileHandler) LoadRecent(ctx context.Context, since time.Time) ([]*Session, error) {
	var out []*Session

	err := h.walk(func(path string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.ModTime().Before(since) {
			return nil
		}

		s, err := h.load(ctx, path)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		out = append(out, s)
		return nil
	})

	return out, err
}

// walk calls fn for every session file in the save directory.
func (h *FileHandler) walk(fn func(path string, info fs.FileInfo) error) error {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return fmt.Errorf("failed to list session save path: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") || !strings.HasPrefix(e.Name(), h.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		if err := fn(filepath.Join(h.dir, e.Name()), info); err != nil {
			return err
		}
	}
	return nil
}
