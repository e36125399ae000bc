package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/example/cita-sniper/internal/domain/reservation"
	"github.com/example/cita-sniper/internal/scheduler"
	"github.com/example/cita-sniper/internal/session"
)

type Config struct {
	// BaseURL is the web booking root; the REST API lives under /rest.
	BaseURL          string               `yaml:"base_url"`
	BranchID         string               `yaml:"branch_id"`
	ServiceID        string               `yaml:"service_id"`
	Date             string               `yaml:"date"`
	Time             string               `yaml:"time"`
	CustomSlotLength int                  `yaml:"custom_slot_length"`
	QuerySlotLength  int                  `yaml:"query_slot_length"`
	Customer         reservation.Customer `yaml:"customer"`

	Release    Release    `yaml:"release"`
	Timing     Timing     `yaml:"timing"`
	Session    Session    `yaml:"session"`
	Booking    Booking    `yaml:"booking"`
	Supervisor Supervisor `yaml:"supervisor"`
}

type Release struct {
	Weekdays    string        `yaml:"weekdays"` // cron day-of-week field
	WindowStart string        `yaml:"window_start"`
	WindowEnd   string        `yaml:"window_end"`
	Step        time.Duration `yaml:"step"`
	Timezone    string        `yaml:"timezone"`
	ScanDays    int           `yaml:"scan_days"`
}

type Timing struct {
	DriftSamples     int             `yaml:"drift_samples"`
	DriftPause       time.Duration   `yaml:"drift_pause"`
	MaxOffset        time.Duration   `yaml:"max_offset"`
	BurstOffsets     []time.Duration `yaml:"burst_offsets"`
	ChaseAfter       time.Duration   `yaml:"chase_after"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	CandidateRetries int             `yaml:"candidate_retries"`
	RetryDelay       time.Duration   `yaml:"retry_delay"`
	CoarseTick       time.Duration   `yaml:"coarse_tick"`
	FineTick         time.Duration   `yaml:"fine_tick"`
	FineThreshold    time.Duration   `yaml:"fine_threshold"`
}

type Session struct {
	Marker              string        `yaml:"marker"`
	InitAttempts        int           `yaml:"init_attempts"`
	ViolationRetries    int           `yaml:"violation_retries"`
	ViolationDelay      time.Duration `yaml:"violation_delay"`
	TransportRetryDelay time.Duration `yaml:"transport_retry_delay"`
	Timeout             time.Duration `yaml:"timeout"`
}

type Booking struct {
	ConfirmAttempts int `yaml:"confirm_attempts"`
}

type Supervisor struct {
	MaxRestarts     int           `yaml:"max_restarts"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	RestartStatuses []int         `yaml:"restart_statuses"`
}

func Default() Config {
	return Config{
		BaseURL:          "https://citaprevia.ciencia.gob.es/qmaticwebbooking",
		CustomSlotLength: 10,
		QuerySlotLength:  1,
		Release: Release{
			Weekdays:    "SUN,MON,TUE,WED",
			WindowStart: "12:00",
			WindowEnd:   "14:50",
			Step:        60 * time.Millisecond,
			Timezone:    "Europe/Madrid",
			ScanDays:    7,
		},
		Timing: Timing{
			DriftSamples:     5,
			DriftPause:       120 * time.Millisecond,
			MaxOffset:        2500 * time.Millisecond,
			BurstOffsets:     scheduler.DefaultBurstOffsets(),
			ChaseAfter:       1500 * time.Millisecond,
			PollInterval:     5 * time.Millisecond,
			CandidateRetries: 4,
			RetryDelay:       10 * time.Millisecond,
			CoarseTick:       time.Second,
			FineTick:         100 * time.Millisecond,
			FineThreshold:    time.Hour,
		},
		Session: Session{
			Marker:              session.DefaultMarker,
			InitAttempts:        3,
			ViolationRetries:    50,
			ViolationDelay:      time.Millisecond,
			TransportRetryDelay: 150 * time.Millisecond,
			Timeout:             10 * time.Second,
		},
		Booking: Booking{ConfirmAttempts: 4},
		Supervisor: Supervisor{
			MaxRestarts:     100000,
			RestartDelay:    100 * time.Microsecond,
			RestartStatuses: []int{400, 504},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), a .env file in the working directory and CITA_* environment
// variables, in that order, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.BaseURL = getenv("CITA_BASE_URL", c.BaseURL)
	c.BranchID = getenv("CITA_BRANCH_ID", c.BranchID)
	c.ServiceID = getenv("CITA_SERVICE_ID", c.ServiceID)
	c.Date = getenv("CITA_DATE", c.Date)
	c.Time = getenv("CITA_TIME", c.Time)
	c.Customer.FirstName = getenv("CITA_FIRST_NAME", c.Customer.FirstName)
	c.Customer.LastName = getenv("CITA_LAST_NAME", c.Customer.LastName)
	c.Customer.CustRef = getenv("CITA_CUST_REF", c.Customer.CustRef)
	c.Customer.Phone = getenv("CITA_PHONE", c.Customer.Phone)
	c.Customer.Email = getenv("CITA_EMAIL", c.Customer.Email)
	c.Release.Weekdays = getenv("CITA_WEEKDAYS", c.Release.Weekdays)
	c.Release.Timezone = getenv("CITA_TIMEZONE", c.Release.Timezone)

	if v := os.Getenv("CITA_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CITA_POLL_INTERVAL: %w", err)
		}
		c.Timing.PollInterval = d
	}
	if v := os.Getenv("CITA_MAX_RESTARTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CITA_MAX_RESTARTS: %w", err)
		}
		c.Supervisor.MaxRestarts = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	req("base_url", c.BaseURL)
	req("branch_id", c.BranchID)
	req("service_id", c.ServiceID)
	req("date", c.Date)

	if c.Date != "" {
		if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
			errs = append(errs, fmt.Errorf("date %q: want YYYY-MM-DD", c.Date))
		}
	}
	if c.Time != "" {
		if _, err := time.Parse("15:04", c.Time); err != nil {
			errs = append(errs, fmt.Errorf("time %q: want HH:MM", c.Time))
		}
	}
	if _, err := c.Window(); err != nil {
		errs = append(errs, err)
	}
	if c.Timing.MaxOffset < 0 {
		errs = append(errs, errors.New("timing.max_offset must not be negative"))
	}
	if c.Timing.PollInterval <= 0 {
		errs = append(errs, errors.New("timing.poll_interval must be positive"))
	}
	if c.Timing.DriftSamples < 1 {
		errs = append(errs, errors.New("timing.drift_samples must be at least 1"))
	}
	for i := 1; i < len(c.Timing.BurstOffsets); i++ {
		if c.Timing.BurstOffsets[i] < c.Timing.BurstOffsets[i-1] {
			errs = append(errs, errors.New("timing.burst_offsets must be ascending"))
			break
		}
	}
	if c.Supervisor.MaxRestarts < 1 {
		errs = append(errs, errors.New("supervisor.max_restarts must be at least 1"))
	}
	return errors.Join(errs...)
}

// RESTBase is the root of the REST API.
func (c Config) RESTBase() string { return strings.TrimRight(c.BaseURL, "/") + "/rest" }

// UIBase is the bootstrap page that hands out the session cookie.
func (c Config) UIBase() string { return strings.TrimRight(c.BaseURL, "/") + "/" }

// Origin is the scheme and host of BaseURL.
func (c Config) Origin() string {
	s := c.BaseURL
	if i := strings.Index(s, "://"); i >= 0 {
		if j := strings.IndexByte(s[i+3:], '/'); j >= 0 {
			return s[:i+3+j]
		}
	}
	return strings.TrimRight(s, "/")
}

// Window resolves the release calendar.
func (c Config) Window() (scheduler.Window, error) {
	r := c.Release
	days, err := ParseWeekdays(r.Weekdays)
	if err != nil {
		return scheduler.Window{}, err
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return scheduler.Window{}, fmt.Errorf("release.timezone: %w", err)
	}
	start, err := clockOffset(r.WindowStart)
	if err != nil {
		return scheduler.Window{}, fmt.Errorf("release.window_start: %w", err)
	}
	end, err := clockOffset(r.WindowEnd)
	if err != nil {
		return scheduler.Window{}, fmt.Errorf("release.window_end: %w", err)
	}
	if end < start {
		return scheduler.Window{}, fmt.Errorf("release window ends (%s) before it starts (%s)", r.WindowEnd, r.WindowStart)
	}
	if r.Step <= 0 {
		return scheduler.Window{}, errors.New("release.step must be positive")
	}
	if r.ScanDays < 0 {
		return scheduler.Window{}, errors.New("release.scan_days must not be negative")
	}
	return scheduler.Window{Weekdays: days, Start: start, End: end, Step: r.Step, Location: loc, Days: r.ScanDays}, nil
}

// SchedulerTiming maps the timing section onto the scheduler's tunables.
func (c Config) SchedulerTiming() scheduler.Timing {
	t := c.Timing
	return scheduler.Timing{
		DriftSamples:     t.DriftSamples,
		MaxOffset:        t.MaxOffset,
		BurstOffsets:     append([]time.Duration(nil), t.BurstOffsets...),
		ChaseAfter:       t.ChaseAfter,
		PollInterval:     t.PollInterval,
		CandidateRetries: t.CandidateRetries,
		RetryDelay:       t.RetryDelay,
		CoarseTick:       t.CoarseTick,
		FineTick:         t.FineTick,
		FineThreshold:    t.FineThreshold,
	}
}

// ParseWeekdays reads a cron day-of-week field such as "SUN,MON,TUE,WED"
// or "1-3".
func ParseWeekdays(field string) (scheduler.WeekdaySet, error) {
	sched, err := cron.NewParser(cron.Dow).Parse(strings.TrimSpace(field))
	if err != nil {
		return 0, fmt.Errorf("release.weekdays %q: %w", field, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return 0, fmt.Errorf("release.weekdays %q: not a day-of-week field", field)
	}
	set := scheduler.WeekdaySet(spec.Dow & 0x7f)
	if set == 0 {
		return 0, fmt.Errorf("release.weekdays %q: empty", field)
	}
	return set, nil
}

// clockOffset turns "HH:MM" or "HH:MM:SS" into an offset from midnight.
func clockOffset(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%q: want HH:MM", s)
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
