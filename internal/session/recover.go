package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/retry"
)

// Recoverer resets and reinitializes a transport identity.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// RecoveryPolicy retries an operation on session violations, performing a
// full Recover between attempts. Any other error ends the loop at once.
func RecoveryPolicy(r Recoverer, attempts int, delay time.Duration, op string, log *slog.Logger) retry.Policy {
	log = logger.OrDefault(log)
	return retry.Policy{
		MaxAttempts: attempts,
		Backoff:     delay,
		Retryable:   IsViolation,
		Between: func(ctx context.Context, attempt int, err error) error {
			log.Warn("session violation, recovering", "op", op, "attempt", attempt, "of", attempts)
			return r.Recover(ctx)
		},
	}
}
