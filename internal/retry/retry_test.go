package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestPolicy_SucceedsAfterRetries(t *testing.T) {
	calls, between := 0, 0
	p := Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return errors.Is(err, errFlaky) },
		Between: func(ctx context.Context, attempt int, err error) error {
			between++
			return nil
		},
	}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, between)
}

func TestPolicy_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	p := Policy{MaxAttempts: 5, Retryable: func(err error) bool { return errors.Is(err, errFlaky) }}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestPolicy_ExhaustsBudget(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestPolicy_BetweenFailureAborts(t *testing.T) {
	boom := errors.New("reset failed")
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Between:     func(ctx context.Context, attempt int, err error) error { return boom },
	}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPolicy_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Policy{MaxAttempts: 3}.Do(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestPolicy_CustomSleep(t *testing.T) {
	var waited []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Backoff:     time.Hour,
		Sleep: func(ctx context.Context, d time.Duration) error {
			waited = append(waited, d)
			return nil
		},
	}
	err := p.Do(context.Background(), func(ctx context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, []time.Duration{time.Hour, time.Hour}, waited)
}
