package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/example/cita-sniper/internal/domain/reservation"
	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/retry"
	"github.com/example/cita-sniper/internal/session"
)

var ErrRestartBudgetExhausted = errors.New("supervisor: restart budget exhausted")

// Session is the reset-capable owner of the transport identity.
type Session interface {
	Reset()
	Init(ctx context.Context) error
}

type Runner interface {
	Run(ctx context.Context, preferred, date string) (*reservation.Confirmation, error)
}

// Loop restarts the whole cycle (fresh session, scheduler run) until a
// booking is confirmed, the context is cancelled or MaxRestarts cycles
// have run.
type Loop struct {
	Session   Session
	Scheduler Runner
	Preferred string
	Date      string

	MaxRestarts     int
	RestartDelay    time.Duration
	RestartStatuses []int

	Sleep func(ctx context.Context, d time.Duration) error
	Log   *slog.Logger
}

func (l *Loop) Run(ctx context.Context) (*reservation.Confirmation, error) {
	log := logger.OrDefault(l.Log)
	sleep := l.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	cycles := l.MaxRestarts
	if cycles < 1 {
		cycles = 1
	}

	for cycle := 0; cycle < cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cycle > 0 {
			log.Info("restarting", "restart", cycle, "of", cycles-1)
		}

		conf, err := l.cycle(ctx)
		if ctx.Err() != nil {
			log.Info("stopped")
			return nil, ctx.Err()
		}
		if err == nil && conf != nil {
			log.Info("appointment booked", "reference", conf.Reference, "status", conf.Status, "time", conf.Time)
			return conf, nil
		}

		if err == nil {
			log.Warn("cycle ended without a booking")
		} else {
			log.Warn("cycle failed", "class", l.classify(err), "error", err)
		}
		if err := sleep(ctx, l.RestartDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d cycles", ErrRestartBudgetExhausted, cycles)
}

// cycle runs one fresh session through the scheduler. A panic ends the
// cycle like any other unexpected failure.
func (l *Loop) cycle(ctx context.Context) (conf *reservation.Confirmation, err error) {
	defer func() {
		if r := recover(); r != nil {
			conf, err = nil, fmt.Errorf("supervisor: cycle panicked: %v", r)
		}
	}()
	l.Session.Reset()
	if err := l.Session.Init(ctx); err != nil {
		return nil, err
	}
	return l.Scheduler.Run(ctx, l.Preferred, l.Date)
}

// classify names the failure class for the operator. Every class leads to
// a restart.
func (l *Loop) classify(err error) string {
	var ie *session.InitError
	switch {
	case session.IsViolation(err):
		return "session violation"
	case session.IsTransport(err):
		return "transport"
	case errors.As(err, &ie):
		return "init"
	}
	if code, ok := session.StatusCode(err); ok {
		if slices.Contains(l.RestartStatuses, code) {
			return fmt.Sprintf("http %d", code)
		}
		return fmt.Sprintf("unexpected http %d", code)
	}
	return "unexpected"
}
