package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/session"
)

// Compile-time checks.
var (
	_ session.Handler    = (*Handler)(nil)
	_ session.Rehydrator = (*Handler)(nil)
)

// Client is the subset of redis.UniversalClient used by Handler.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Handler stores each session as one string key holding its marshalled form.
// Keys carry a TTL matching the session's expiry, so Redis evicts most
// sessions before Expire sees them.
type Handler struct {
	client            Client
	prefix            string
	inactivityTimeout time.Duration
	scanBatch         int64
	logger            *slog.Logger
	now               func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = prefix
	}
}

// WithInactivityTimeout bounds key TTLs to d counted from each write.
func WithInactivityTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.inactivityTimeout = d
		}
	}
}

// WithScanBatchSize sets the COUNT hint for SCAN.
func WithScanBatchSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.scanBatch = int64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a Redis session handler.
func New(client Client, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, session.ErrNilHandler
	}

	h := &Handler{
		client:    client,
		prefix:    "session:",
		scanBatch: 1000,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Key returns the Redis key used for id.
func (h *Handler) Key(id string) string {
	return h.prefix + id
}

// Load fetches and decodes the session. Corrupt values are deleted and
// reported as session.ErrNotFound.
func (h *Handler) Load(ctx context.Context, id string) (*session.Session, error) {
	if !session.ValidID(id) {
		return nil, session.ErrInvalidID
	}
	return h.load(ctx, h.Key(id))
}

func (h *Handler) load(ctx context.Context, key string) (*session.Session, error) {
	data, err := h.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s, err := session.Unmarshal(data)
	if err != nil {
		h.logger.WarnContext(ctx, "removing corrupt session",
			logger.Component("session_redis_handler"),
			logger.Key("key", key),
			logger.Error(err))
		if delErr := h.client.Del(ctx, key).Err(); delErr != nil {
			return nil, fmt.Errorf("failed to delete corrupt session: %w", delErr)
		}
		return nil, session.ErrNotFound
	}
	return s, nil
}

// Save writes s with a TTL of the inactivity timeout counted from now,
// shortened by the session's own lifetime and maximum age. A session that is
// no longer resumable is deleted instead.
func (h *Handler) Save(ctx context.Context, s *session.Session) error {
	id := s.ID()
	if !session.ValidID(id) {
		return session.ErrInvalidID
	}

	now := h.now()
	var ttl time.Duration
	if at := s.RetainUntil(now, h.inactivityTimeout); !at.IsZero() {
		ttl = at.Sub(now)
		if ttl <= 0 {
			return h.Delete(ctx, id)
		}
	}

	data, err := session.Marshal(s)
	if err != nil {
		return err
	}
	if err := h.client.Set(ctx, h.Key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// Delete removes the key for id.
func (h *Handler) Delete(ctx context.Context, id string) error {
	if !session.ValidID(id) {
		return session.ErrInvalidID
	}
	if err := h.client.Del(ctx, h.Key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Expire deletes stored sessions that are no longer resumable. Inactivity
// is enforced by the key TTL set on Save.
func (h *Handler) Expire(ctx context.Context) (int, error) {
	now := h.now()
	removed := 0

	err := h.scan(ctx, func(key string) error {
		s, err := h.load(ctx, key)
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil
		case err != nil:
			return err
		}

		if s.Resumable(now) {
			return nil
		}
		if err := h.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete expired session: %w", err)
		}
		removed++
		return nil
	})
	return removed, err
}

// LoadRecent returns sessions active at or after since.
func (h *Handler) LoadRecent(ctx context.Context, since time.Time) ([]*session.Session, error) {
	var out []*session.Session
	err := h.scan(ctx, func(key string) error {
		s, err := h.load(ctx, key)
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		if !s.LastActivity().Before(since) {
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// scan calls fn for every key under the prefix.
func (h *Handler) scan(ctx context.Context, fn func(key string) error) error {
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		keys, next, err := h.client.Scan(ctx, cursor, h.prefix+"*", h.scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan sessions: %w", err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
