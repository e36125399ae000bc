package cmd

import (
	"log/slog"

	"github.com/example/cita-sniper/internal/booking"
	"github.com/example/cita-sniper/internal/clocksync"
	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/poller"
	"github.com/example/cita-sniper/internal/qmatic"
	"github.com/example/cita-sniper/internal/scheduler"
	"github.com/example/cita-sniper/internal/session"
	"github.com/example/cita-sniper/internal/supervisor"
)

// engine is the fully wired sniping stack for one configuration.
type engine struct {
	session   *session.Manager
	client    *qmatic.Client
	meter     *clocksync.Meter
	poller    *poller.Poller
	scheduler *scheduler.Scheduler
	loop      *supervisor.Loop
}

func newEngine(cfg config.Config, log *slog.Logger) (*engine, error) {
	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Options{
		RESTBase:            cfg.RESTBase(),
		UIBase:              cfg.UIBase(),
		BranchID:            cfg.BranchID,
		Headers:             session.DefaultHeaders(cfg.Origin(), cfg.UIBase()),
		Marker:              cfg.Session.Marker,
		InitAttempts:        cfg.Session.InitAttempts,
		ViolationDelay:      cfg.Session.ViolationDelay,
		TransportRetryDelay: cfg.Session.TransportRetryDelay,
		Timeout:             cfg.Session.Timeout,
		Log:                 log.WithGroup("session"),
	})
	if err != nil {
		return nil, err
	}
	client := qmatic.New(sess, qmatic.Options{
		BranchID:         cfg.BranchID,
		ServiceID:        cfg.ServiceID,
		Customer:         cfg.Customer,
		CustomSlotLength: cfg.CustomSlotLength,
		QuerySlotLength:  cfg.QuerySlotLength,
		Log:              log.WithGroup("api"),
	})

	e := &engine{session: sess, client: client}
	e.meter = &clocksync.Meter{Source: client, Pause: cfg.Timing.DriftPause, Log: log}
	e.poller = &poller.Poller{
		API:              client,
		Session:          sess,
		ViolationRetries: cfg.Session.ViolationRetries,
		ViolationDelay:   cfg.Session.ViolationDelay,
		Log:              log,
	}
	e.scheduler = &scheduler.Scheduler{
		Window:  window,
		Timing:  cfg.SchedulerTiming(),
		Clock:   scheduler.SystemClock{},
		Server:  client,
		Catalog: client,
		Meter:   e.meter,
		Poller:  e.poller,
		Booker: &booking.Workflow{
			API:              client,
			Session:          sess,
			Date:             cfg.Date,
			ViolationRetries: cfg.Session.ViolationRetries,
			ViolationDelay:   cfg.Session.ViolationDelay,
			ConfirmAttempts:  cfg.Booking.ConfirmAttempts,
			RetryDelay:       cfg.Timing.RetryDelay,
			Log:              log.WithGroup("booking"),
		},
		Log: log,
	}
	e.loop = &supervisor.Loop{
		Session:         sess,
		Scheduler:       e.scheduler,
		Preferred:       cfg.Time,
		Date:            cfg.Date,
		MaxRestarts:     cfg.Supervisor.MaxRestarts,
		RestartDelay:    cfg.Supervisor.RestartDelay,
		RestartStatuses: cfg.Supervisor.RestartStatuses,
		Log:             log,
	}
	return e, nil
}
