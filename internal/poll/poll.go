// File: internal/poll/poll.go
// Description: A cancellable asynchronous wait primitive. It races a
// condition-check ticker against a deadline timer, resolves exactly once, and
// guarantees both timers are released.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the deadline elapses before the condition holds.
var ErrTimeout = errors.New("poll: condition not met before deadline")

// Condition reports whether the awaited state has been reached. A non-nil
// error aborts the wait immediately.
type Condition func(ctx context.Context) (bool, error)

// Until polls cond at the given interval until it returns true, the timeout
// elapses (ErrTimeout), or ctx is cancelled. The condition is checked once
// immediately before any timer fires.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ok, err := cond(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-ticker.C:
			ok, err := cond(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
