package session

import "errors"

var (
	// ErrNotFound is returned when a session is neither live nor stored by any handler.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a session exists but is no longer resumable.
	ErrExpired = errors.New("session has expired")
	// ErrInvalidID is returned for empty or unsafe session identifiers.
	ErrInvalidID = errors.New("invalid session id")
	// ErrKeyNotFound is returned by Session.Get for a missing payload key.
	ErrKeyNotFound = errors.New("session key not found")
	// ErrCorrupt is returned when a persisted session cannot be decoded.
	ErrCorrupt = errors.New("session data is corrupt")
	// ErrFactoryNotRunning is returned by NextFromPool before Start or after Stop.
	ErrFactoryNotRunning = errors.New("session factory is not running")
	// ErrAlreadyRunning is returned when a daemon is started twice.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned when stopping a daemon that was never started.
	ErrNotRunning = errors.New("daemon not running")
	// ErrShutdownTimeout is returned when a daemon does not stop in time.
	ErrShutdownTimeout = errors.New("daemon shutdown timeout exceeded")
	// ErrNilHandler is returned when a nil session handler is supplied.
	ErrNilHandler = errors.New("session handler is nil")
	// ErrGCDisabled is reported when the inactivity timeout is zero.
	ErrGCDisabled = errors.New("session garbage collection disabled")
	// ErrPassStalled is reported by healthchecks when a daemon has not completed a pass recently.
	ErrPassStalled = errors.New("daemon pass overdue")
	// ErrHealthcheckFailed wraps every healthcheck failure.
	ErrHealthcheckFailed = errors.New("session healthcheck failed")
)
