package utils

import (
	"context"
	"fmt"
	"time"
)

// Poll invokes check up to attempts times, sleeping interval between
// attempts, until it returns (true, nil). A non-nil error from check aborts
// immediately. Exhausting all attempts returns an error; context
// cancellation wins over both.
func Poll(ctx context.Context, attempts int, interval time.Duration, check func() (done bool, err error)) error {
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("gave up after %d attempts", attempts)
}

// Sleep blocks for d or until ctx is cancelled, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
