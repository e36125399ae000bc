package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/example/cita-sniper/internal/booking"
	"github.com/example/cita-sniper/internal/clocksync"
	"github.com/example/cita-sniper/internal/domain/reservation"
	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/retry"
	"github.com/example/cita-sniper/internal/session"
)

// Clock is the local time base all waits run on.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error { return retry.Sleep(ctx, d) }

type (
	ServerClock interface {
		ServerTime(ctx context.Context) (time.Time, error)
	}
	Catalog interface {
		ServiceMeta(ctx context.Context) (reservation.ServiceMeta, error)
	}
	OffsetMeter interface {
		MeasureOffset(ctx context.Context, n int) (time.Duration, error)
	}
	SlotLister interface {
		List(ctx context.Context, date string) ([]string, error)
	}
	Booker interface {
		Attempt(ctx context.Context, at string, meta reservation.ServiceMeta) (*reservation.Confirmation, error)
	}
)

// Timing holds the tunables of the approach, burst and chase phases.
type Timing struct {
	DriftSamples int
	MaxOffset    time.Duration

	// BurstOffsets are relative to the engage instant, polled in order.
	BurstOffsets []time.Duration
	ChaseAfter   time.Duration
	PollInterval time.Duration

	CandidateRetries int
	RetryDelay       time.Duration

	CoarseTick    time.Duration
	FineTick      time.Duration
	FineThreshold time.Duration
}

func DefaultBurstOffsets() []time.Duration {
	ms := []int{-1000, -500, -350, -200, -150, -100, -50, 0, 30, 50, 100, 150, 180, 190, 200, 500, 1000}
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

// Scheduler races the release boundaries of Window for one target date.
type Scheduler struct {
	Window Window
	Timing Timing

	Clock   Clock
	Server  ServerClock
	Catalog Catalog
	Meter   OffsetMeter
	Poller  SlotLister
	Booker  Booker
	Log     *slog.Logger
}

// Run engages every upcoming boundary in order until a booking is
// confirmed. It returns nil, nil when the boundaries run out. Session
// violations past their recovery budget, transport failures and
// cancellation are returned for the caller to restart on.
func (s *Scheduler) Run(ctx context.Context, preferred, date string) (*reservation.Confirmation, error) {
	log := logger.OrDefault(s.Log)

	ref, err := s.Server.ServerTime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("server time unavailable, using local clock", "error", err)
		ref = s.Clock.Now()
	}
	meta, err := s.Catalog.ServiceMeta(ctx)
	if err != nil {
		if _, status := session.StatusCode(err); status || escalates(ctx, err) {
			return nil, err
		}
		log.Warn("service catalog unavailable, using defaults", "error", err)
	}
	log.Info("service", "name", meta.Name, "qpId", meta.QPID)

	seq := s.Window.Boundaries(ref)
	next := Take(seq, 6)
	if len(next) == 0 {
		log.Info("no release boundaries in range", "days", s.Window.Days, "weekdays", s.Window.Weekdays.String())
		return nil, nil
	}
	log.Info("upcoming boundaries", "first", next[0].Format("02-01 15:04:05"), "count_shown", len(next), "date", date)

	for b := range seq {
		conf, err := s.engage(ctx, log.With("boundary", b.Format("2006-01-02 15:04:05.000")), b, preferred, date, meta)
		if err != nil || conf != nil {
			return conf, err
		}
		log.Debug("boundary exhausted, moving on")
	}
	log.Info("release boundaries exhausted")
	return nil, nil
}

func (s *Scheduler) engage(ctx context.Context, log *slog.Logger, b time.Time, preferred, date string, meta reservation.ServiceMeta) (*reservation.Confirmation, error) {
	raw, err := s.Meter.MeasureOffset(ctx, s.Timing.DriftSamples)
	if err != nil {
		return nil, err
	}
	offset := clocksync.Clamp(raw, s.Timing.MaxOffset)
	// engage is on the local clock: the instant server time reaches b.
	engage := b.Add(-offset)
	log.Info("drift measured", "raw", raw, "correction", -offset, "engage", engage.Format("15:04:05.000"))

	if s.Clock.Now().Before(engage) {
		if err := s.announce(ctx, log, preferred, date); err != nil {
			return nil, err
		}
		lead := time.Duration(0)
		if len(s.Timing.BurstOffsets) > 0 && s.Timing.BurstOffsets[0] < 0 {
			lead = s.Timing.BurstOffsets[0]
		}
		if err := s.approach(ctx, log, engage.Add(lead)); err != nil {
			return nil, err
		}
	}

	for _, d := range s.Timing.BurstOffsets {
		if err := s.waitUntil(ctx, engage.Add(d), s.Timing.PollInterval); err != nil {
			return nil, err
		}
		times, err := s.Poller.List(ctx, date)
		if err != nil {
			if escalates(ctx, err) {
				return nil, err
			}
			log.Warn("burst poll failed", "offset", d, "error", err)
			continue
		}
		if len(times) == 0 {
			log.Debug("burst: no slots", "offset", d)
			continue
		}
		if conf, err := s.book(ctx, log.With("phase", "burst", "offset", d), preferred, times, meta); err != nil || conf != nil {
			return conf, err
		}
	}

	deadline := engage.Add(s.Timing.ChaseAfter)
	for s.Clock.Now().Before(deadline) {
		times, err := s.Poller.List(ctx, date)
		switch {
		case err != nil && escalates(ctx, err):
			return nil, err
		case err != nil:
			log.Debug("chase poll failed", "error", err)
		case len(times) > 0:
			lag := s.Clock.Now().Sub(engage)
			if conf, err := s.book(ctx, log.With("phase", "chase", "lag", lag), preferred, times, meta); err != nil || conf != nil {
				return conf, err
			}
		}
		if err := s.Clock.Sleep(ctx, step(s.Timing.PollInterval, deadline.Sub(s.Clock.Now()))); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// book retries the booking workflow on one candidate. Unavailable slots and
// exhausted confirm rounds are expected and end in nil, nil.
func (s *Scheduler) book(ctx context.Context, log *slog.Logger, preferred string, times []string, meta reservation.ServiceMeta) (*reservation.Confirmation, error) {
	at, _ := reservation.ChooseTime(preferred, times)
	log.Info("slots open", "count", len(times), "chosen", at, "sample", reservation.Sample(times, 6))

	var conf *reservation.Confirmation
	p := retry.Policy{
		MaxAttempts: s.Timing.CandidateRetries,
		Backoff:     s.Timing.RetryDelay,
		Retryable: func(err error) bool {
			return errors.Is(err, booking.ErrSlotUnavailable) || errors.Is(err, booking.ErrAttemptsExhausted)
		},
		Between: func(ctx context.Context, attempt int, err error) error {
			log.Info("candidate not booked, retrying", "time", at, "attempt", attempt, "of", s.Timing.CandidateRetries, "reason", err)
			return nil
		},
		Sleep: s.Clock.Sleep,
	}
	err := p.Do(ctx, func(ctx context.Context) error {
		c, err := s.Booker.Attempt(ctx, at, meta)
		if err != nil {
			return err
		}
		conf = c
		return nil
	})
	switch {
	case err == nil:
		return conf, nil
	case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrAttemptsExhausted):
		log.Info("candidate lost", "time", at, "reason", err)
		return nil, nil
	}
	return nil, err
}

// announce reports what the API shows before the wait starts.
func (s *Scheduler) announce(ctx context.Context, log *slog.Logger, preferred, date string) error {
	times, err := s.Poller.List(ctx, date)
	switch {
	case err != nil && escalates(ctx, err):
		return err
	case err != nil:
		log.Warn("could not read open times", "date", date, "error", err)
	case len(times) == 0:
		log.Info("no open times visible yet", "date", date)
	default:
		listed := preferred != "" && slices.Contains(times, preferred)
		log.Info("open times", "date", date, "count", len(times), "preferred", preferred, "listed", listed, "sample", reservation.Sample(times, 8))
	}
	return nil
}

// approach blocks until target with coarse ticks far out and fine ticks
// within FineThreshold.
func (s *Scheduler) approach(ctx context.Context, log *slog.Logger, target time.Time) error {
	log.Info("waiting for boundary", "until", target.Format("2006-01-02 15:04:05.000"), "in", target.Sub(s.Clock.Now()).Round(time.Second))
	fine := false
	for {
		rem := target.Sub(s.Clock.Now())
		if rem <= 0 {
			return nil
		}
		tick := s.Timing.CoarseTick
		if rem <= s.Timing.FineThreshold {
			if !fine {
				log.Debug("fine approach", "remaining", rem.Round(time.Millisecond))
				fine = true
			}
			tick = s.Timing.FineTick
		}
		if err := s.Clock.Sleep(ctx, step(tick, rem)); err != nil {
			return err
		}
	}
}

// waitUntil spins in tick steps until target.
func (s *Scheduler) waitUntil(ctx context.Context, target time.Time, tick time.Duration) error {
	for {
		rem := target.Sub(s.Clock.Now())
		if rem <= 0 {
			return nil
		}
		if err := s.Clock.Sleep(ctx, step(tick, rem)); err != nil {
			return err
		}
	}
}

func step(tick, rem time.Duration) time.Duration {
	if tick <= 0 || tick > rem {
		return rem
	}
	return tick
}

// escalates reports whether err must leave the scheduler so the cycle can
// be restarted on a fresh session.
func escalates(ctx context.Context, err error) bool {
	return ctx.Err() != nil || session.IsViolation(err) || session.IsTransport(err) || session.IsInit(err)
}
