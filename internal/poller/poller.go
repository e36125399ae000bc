package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/session"
)

// TimesLister is the single live read the poller wraps.
type TimesLister interface {
	Times(ctx context.Context, date string) ([]string, error)
}

// Poller lists the open times of a date, recovering the session when the
// service invalidates it.
type Poller struct {
	API              TimesLister
	Session          session.Recoverer
	ViolationRetries int
	ViolationDelay   time.Duration
	Log              *slog.Logger
}

// List returns the open times in the order the service reports them. An
// empty slice with a nil error means nothing is open yet. After
// ViolationRetries consecutive violations the violation is returned.
func (p *Poller) List(ctx context.Context, date string) ([]string, error) {
	var out []string
	policy := session.RecoveryPolicy(p.Session, p.ViolationRetries, p.ViolationDelay, "times", logger.OrDefault(p.Log))
	err := policy.Do(ctx, func(ctx context.Context) error {
		times, err := p.API.Times(ctx, date)
		if err != nil {
			return err
		}
		out = times
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
