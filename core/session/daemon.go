package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// daemon holds the start/stop state shared by the session background loops.
type daemon struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown time.Duration
}

// begin marks the daemon running and returns the loop context.
func (d *daemon) begin(ctx context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return nil, ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	return loopCtx, nil
}

// end is deferred by the loop goroutine.
func (d *daemon) end() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		close(d.done)
		d.done = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *daemon) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// stop cancels the loop and waits up to the shutdown timeout for it to exit.
func (d *daemon) stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()

	timeout := d.shutdown
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

// runFunc adapts a blocking start and a stop into an errgroup function.
func runFunc(ctx context.Context, start func(context.Context) error, stop func() error) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = stop()
			<-errCh
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}
