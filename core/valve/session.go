package valve

import (
	"errors"
	"io"
	"log/slog"

	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/session"
)

// SessionOption configures the session valve.
type SessionOption func(*sessionValve)

// WithSessionLogger sets the logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(v *sessionValve) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithSessionIDGenerator overrides how new session ids are generated.
func WithSessionIDGenerator(fn func() (string, error)) SessionOption {
	return func(v *sessionValve) {
		if fn != nil {
			v.newID = fn
		}
	}
}

type sessionValve struct {
	manager *session.Manager
	newID   func() (string, error)
	logger  *slog.Logger
}

// Session returns a valve that resumes the session named by the request
// cookie or creates a new one, attaches it to the request and sets the
// session cookie on the response. It never dispatches.
func Session(m *session.Manager, opts ...SessionOption) Valve {
	v := &sessionValve{
		manager: m,
		newID:   session.NewID,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *sessionValve) Invoke(req *Request, resp *Response) error {
	ctx := req.Context()
	name := v.manager.Settings().Name

	var s *session.Session
	if c, err := req.Cookie(name); err == nil && c.Value != "" {
		found, err := v.manager.Find(ctx, c.Value)
		switch {
		case err == nil:
			s = found
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrInvalidID):
			v.logger.DebugContext(ctx, "session not resumable, starting a new one",
				logger.App(req.App),
				logger.SessionID(c.Value),
				logger.Error(err))
		default:
			return err
		}
	}

	if s == nil {
		id, err := v.newID()
		if err != nil {
			return err
		}
		if s, err = v.manager.Create(ctx, id, name); err != nil {
			return err
		}
	}

	s.Touch()
	req.SetSession(s)
	resp.SetCookie(s.Cookie())
	return nil
}
