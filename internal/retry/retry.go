package retry

import (
	"context"
	"time"
)

// Policy is a bounded retry loop. Retryable decides whether a failed
// attempt may be repeated; Between runs before each repeat (for example a
// session reset) and aborts the loop when it fails.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
	Between     func(ctx context.Context, attempt int, err error) error

	// Sleep overrides the backoff wait; nil uses the package Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		sleep := p.Sleep
		if sleep == nil {
			sleep = Sleep
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return serr
		}
		if p.Between != nil {
			if berr := p.Between(ctx, attempt, err); berr != nil {
				return berr
			}
		}
	}
	return err
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
