package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/cita-sniper/internal/domain/reservation"
	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/retry"
	"github.com/example/cita-sniper/internal/session"
)

// Workflow drives reserve → checkMultiple → matchCustomer → confirm for a
// single candidate time of Date.
type Workflow struct {
	API     reservation.BookingAPI
	Session session.Recoverer
	Date    string

	ViolationRetries int
	ViolationDelay   time.Duration
	ConfirmAttempts  int
	RetryDelay       time.Duration

	Log *slog.Logger
}

// Attempt tries to book at. It returns ErrSlotUnavailable when reserve
// yields no reservation, and ErrAttemptsExhausted when every round ended in
// a failed confirm. Session violations past the recovery budget, transport
// failures and cancellation are returned as they are.
func (w *Workflow) Attempt(ctx context.Context, at string, meta reservation.ServiceMeta) (*reservation.Confirmation, error) {
	log := logger.OrDefault(w.Log).With("time", at)
	rounds := w.ConfirmAttempts
	if rounds < 1 {
		rounds = 1
	}

	var last error
	for round := 1; round <= rounds; round++ {
		var (
			pending reservation.Pending
			ok      bool
		)
		err := w.step("reserve").Do(ctx, func(ctx context.Context) error {
			var err error
			pending, ok, err = w.API.Reserve(ctx, w.Date, at, meta)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSlotUnavailable
		}
		log.Info("slot reserved", "reservation", pending.PublicID, "round", round)

		if err := w.diagnostic(ctx, log, "checkMultiple", func(ctx context.Context) error {
			return w.API.CheckMultiple(ctx, w.Date, at)
		}); err != nil {
			return nil, err
		}
		if err := w.diagnostic(ctx, log, "matchCustomer", w.API.MatchCustomer); err != nil {
			return nil, err
		}

		var conf reservation.Confirmation
		err = w.step("confirm").Do(ctx, func(ctx context.Context) error {
			var err error
			conf, err = w.API.Confirm(ctx, pending)
			return err
		})
		switch {
		case err == nil && conf.Reference != "":
			log.Info("appointment confirmed", "reference", conf.Reference, "status", conf.Status)
			return &conf, nil
		case err == nil:
			err = &ConfirmationError{ReservationID: pending.PublicID, Err: errors.New("no confirmation reference")}
		case isStatus(err):
			err = &ConfirmationError{ReservationID: pending.PublicID, Err: err}
		default:
			return nil, err
		}

		// The reservation is gone for good; the next round reserves again.
		last = err
		log.Warn("confirm failed, abandoning reservation", "round", round, "of", rounds, "error", err)
		if round < rounds {
			if err := retry.Sleep(ctx, w.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAttemptsExhausted, last)
}

func (w *Workflow) step(op string) retry.Policy {
	return session.RecoveryPolicy(w.Session, w.ViolationRetries, w.ViolationDelay, op, w.Log)
}

// diagnostic runs a non-fatal step. Only errors that make the session or
// the context unusable are returned.
func (w *Workflow) diagnostic(ctx context.Context, log *slog.Logger, op string, fn func(context.Context) error) error {
	err := w.step(op).Do(ctx, fn)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || session.IsViolation(err) || session.IsTransport(err) || session.IsInit(err) {
		return err
	}
	log.Warn(op+" failed, continuing", "error", err)
	return nil
}

func isStatus(err error) bool {
	_, ok := session.StatusCode(err)
	return ok
}
