package scheduler

import (
	"iter"
	"strings"
	"time"
)

// WeekdaySet is a bit set indexed by time.Weekday (Sunday = bit 0).
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) String() string {
	var names []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			names = append(names, d.String()[:3])
		}
	}
	return strings.Join(names, ",")
}

// Window describes when release boundaries occur: every Step from Start to
// End (offsets from local midnight, inclusive) on each weekday in Weekdays,
// in Location.
type Window struct {
	Weekdays WeekdaySet
	Start    time.Duration
	End      time.Duration
	Step     time.Duration
	Location *time.Location
	Days     int // horizon past today
}

// Boundaries lazily yields the release boundaries of the next Days days
// (today included) that fall strictly after now, in ascending order.
func (w Window) Boundaries(now time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if w.Step <= 0 || w.End < w.Start {
			return
		}
		loc := w.Location
		if loc == nil {
			loc = time.Local
		}
		base := now.In(loc)
		var last time.Time
		for add := 0; add <= w.Days; add++ {
			day := time.Date(base.Year(), base.Month(), base.Day()+add, 0, 0, 0, 0, loc)
			if !w.Weekdays.Has(day.Weekday()) {
				continue
			}
			end := atOffset(day, w.End)
			for b := atOffset(day, w.Start); !b.After(end); b = b.Add(w.Step) {
				if !b.After(now) || !b.After(last) {
					continue
				}
				last = b
				if !yield(b) {
					return
				}
			}
		}
	}
}

// atOffset resolves a wall-clock offset from midnight of day in its
// location, so DST transitions do not shift the window.
func atOffset(day time.Time, off time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, int(off), day.Location())
}

// Take returns up to n leading elements of seq.
func Take(seq iter.Seq[time.Time], n int) []time.Time {
	out := make([]time.Time, 0, n)
	if n <= 0 {
		return out
	}
	for t := range seq {
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out
}
