package pg

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/session"
	pgdb "github.com/dmitrymomot/appserver/integration/database/pg"
)

// Compile-time checks.
var (
	_ session.Handler    = (*Handler)(nil)
	_ session.Rehydrator = (*Handler)(nil)
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations holds the goose migrations creating the sessions table.
var Migrations fs.FS = mustSub(migrations, "migrations")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// DB is the subset of *pgxpool.Pool used by Handler.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectSession = `SELECT data FROM appserver_sessions WHERE id = $1`
	upsertSession = `INSERT INTO appserver_sessions (id, data, last_activity, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, last_activity = EXCLUDED.last_activity, expires_at = EXCLUDED.expires_at`
	deleteSession = `DELETE FROM appserver_sessions WHERE id = $1`
	deleteExpired = `DELETE FROM appserver_sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`
	selectRecent  = `SELECT data FROM appserver_sessions WHERE last_activity >= $1 AND (expires_at IS NULL OR expires_at > $2)`
)

// Handler stores sessions in the appserver_sessions table. Writes join a
// transaction carried by the context (see pg.WithTx).
type Handler struct {
	db                DB
	inactivityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithInactivityTimeout sets expires_at to at most d after each write, so
// Expire removes rows not written for longer than d.
func WithInactivityTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.inactivityTimeout = d
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

// New creates a PostgreSQL session handler. Apply Migrations first.
func New(db DB, opts ...Option) (*Handler, error) {
	if db == nil {
		return nil, session.ErrNilHandler
	}

	h := &Handler{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) exec(ctx context.Context, q string, args ...any) (int64, error) {
	return pgdb.Exec(ctx, h.db, q, args...)
}

// Load reads and decodes the row for id. Corrupt rows are deleted and
// reported as session.ErrNotFound.
func (h *Handler) Load(ctx context.Context, id string) (*session.Session, error) {
	if !session.ValidID(id) {
		return nil, session.ErrInvalidID
	}

	var data string
	err := h.db.QueryRow(ctx, selectSession, id).Scan(&data)
	if pgdb.IsNotFoundError(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	s, err := session.Unmarshal(data)
	if err != nil {
		h.logger.WarnContext(ctx, "removing corrupt session row",
			logger.Component("session_pg_handler"),
			logger.SessionID(id),
			logger.Error(err))
		if _, delErr := h.exec(ctx, deleteSession, id); delErr != nil {
			return nil, fmt.Errorf("failed to delete corrupt session: %w", delErr)
		}
		return nil, session.ErrNotFound
	}
	return s, nil
}

// Save upserts the row for s.
func (h *Handler) Save(ctx context.Context, s *session.Session) error {
	id := s.ID()
	if !session.ValidID(id) {
		return session.ErrInvalidID
	}

	data, err := session.Marshal(s)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if at := s.RetainUntil(h.now(), h.inactivityTimeout); !at.IsZero() {
		expiresAt = &at
	}

	if _, err := h.exec(ctx, upsertSession, id, data, s.LastActivity(), expiresAt); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the row for id.
func (h *Handler) Delete(ctx context.Context, id string) error {
	if !session.ValidID(id) {
		return session.ErrInvalidID
	}
	if _, err := h.exec(ctx, deleteSession, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Expire deletes rows past their expires_at. Save sets it to the inactivity
// timeout counted from the write, bounded by the session's own expiry.
func (h *Handler) Expire(ctx context.Context) (int, error) {
	n, err := h.exec(ctx, deleteExpired, h.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return int(n), nil
}

// LoadRecent returns unexpired sessions active at or after since. Rows that
// fail to decode are skipped.
func (h *Handler) LoadRecent(ctx context.Context, since time.Time) ([]*session.Session, error) {
	rows, err := h.db.Query(ctx, selectRecent, since, h.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}

	data, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read recent sessions: %w", err)
	}

	out := make([]*session.Session, 0, len(data))
	for _, d := range data {
		s, err := session.Unmarshal(d)
		if err != nil {
			h.logger.WarnContext(ctx, "skipping corrupt session row",
				logger.Component("session_pg_handler"),
				logger.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
