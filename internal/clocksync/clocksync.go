package clocksync

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/retry"
	"github.com/example/cita-sniper/internal/session"
)

// TimeSource reports the remote authoritative clock.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Meter estimates the offset between the local clock and a TimeSource.
type Meter struct {
	Source TimeSource
	Pause  time.Duration // between samples
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Log    *slog.Logger
}

// MeasureOffset performs n round trips and returns the mean of
// remote − midpoint(local before, local after) over the successful samples.
// A failed sample is skipped; when every sample fails the offset is zero.
// A session violation ends sampling early, leaving recovery to the next
// request. The only error returned is the context's.
func (m *Meter) MeasureOffset(ctx context.Context, n int) (time.Duration, error) {
	now := m.Now
	if now == nil {
		now = time.Now
	}
	sleep := m.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	log := logger.OrDefault(m.Log)

	var sum time.Duration
	var ok int
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		t0 := now()
		remote, err := m.Source.ServerTime(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if session.IsViolation(err) {
				log.Warn("session invalidated, stopping clock samples", "sample", i+1, "kept", ok)
				break
			}
			log.Warn("clock sample failed", "sample", i+1, "error", err)
		} else {
			t1 := now()
			mid := t0.Add(t1.Sub(t0) / 2)
			sum += remote.Sub(mid)
			ok++
		}
		if i < n-1 {
			if err := sleep(ctx, m.Pause); err != nil {
				return 0, err
			}
		}
	}
	if ok == 0 {
		return 0, nil
	}
	return sum / time.Duration(ok), nil
}

// Clamp bounds offset to [-bound, bound].
func Clamp(offset, bound time.Duration) time.Duration {
	if bound < 0 {
		bound = -bound
	}
	switch {
	case offset > bound:
		return bound
	case offset < -bound:
		return -bound
	}
	return offset
}
