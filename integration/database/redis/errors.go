package redis

import "errors"

var (
	// ErrEmptyConnectionURL is returned when REDIS_URL is blank.
	ErrEmptyConnectionURL = errors.New("redis: empty connection url")
	// ErrInvalidConnectionURL wraps redis.ParseURL failures.
	ErrInvalidConnectionURL = errors.New("redis: invalid connection url")
	// ErrNotReady is returned when no ping succeeds within the retry budget.
	ErrNotReady = errors.New("redis: server not ready")
	// ErrHealthcheckFailed wraps ping failures reported by Healthcheck.
	ErrHealthcheckFailed = errors.New("redis: healthcheck failed")
)
