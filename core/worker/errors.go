package worker

import "errors"

var (
	ErrAcquireTimeout     = errors.New("no idle request handler available")
	ErrPoolClosed         = errors.New("request handler pool is closed")
	ErrNotAcquired        = errors.New("request handler was not acquired from this pool")
	ErrUnknownApplication = errors.New("no pool for application")
	ErrAlreadyRunning     = errors.New("request handler manager already running")
	ErrNotRunning         = errors.New("request handler manager not running")
	ErrShutdownTimeout    = errors.New("request handler manager shutdown timeout exceeded")
	ErrHealthcheckFailed  = errors.New("request handler manager healthcheck failed")
	ErrPoolBelowTarget    = errors.New("request handler pool below target")
)
