package session

import (
	"context"
	"time"
)

// Handler persists sessions durably. Implementations must be safe for
// concurrent use.
type Handler interface {
	// Load returns the stored session for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)
	// Save stores s under its id, overwriting any previous copy.
	Save(ctx context.Context, s *Session) error
	// Delete removes the stored copy of id. Missing ids are not an error.
	Delete(ctx context.Context, id string) error
	// Expire removes every stored session that is no longer resumable and
	// returns the number removed.
	Expire(ctx context.Context) (int, error)
}

// Rehydrator is implemented by handlers that can enumerate recently used
// sessions. The persistence manager uses it to warm the live table on start.
type Rehydrator interface {
	LoadRecent(ctx context.Context, since time.Time) ([]*Session, error)
}
