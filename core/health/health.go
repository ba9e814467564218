package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/appserver/core/logger"
)

// Check reports whether a dependency is available.
type Check func(ctx context.Context) error

// Join combines checks into one. Nil checks are skipped. The returned check
// runs the rest concurrently and joins their errors.
func Join(checks ...Check) Check {
	active := make([]Check, 0, len(checks))
	for _, c := range checks {
		if c != nil {
			active = append(active, c)
		}
	}

	return func(ctx context.Context) error {
		errs := make([]error, len(active))
		var g errgroup.Group
		for i, c := range active {
			g.Go(func() error {
				errs[i] = c(ctx)
				return nil
			})
		}
		_ = g.Wait()
		return errors.Join(errs...)
	}
}

// Liveness always answers 200 "ALIVE".
func Liveness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, "ALIVE")
	})
}

// Readiness answers 200 "READY" when every check passes and 503 otherwise.
// Failures are logged and never exposed to the caller.
func Readiness(log *slog.Logger, checks ...Check) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	check := Join(checks...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			log.ErrorContext(r.Context(), "readiness check failed",
				logger.Component("health"),
				logger.Error(err))
			write(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
			return
		}
		write(w, http.StatusOK, "READY")
	})
}

func write(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
