package scheduler

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return loc
}

func releaseWindow(loc *time.Location) Window {
	return Window{
		Weekdays: NewWeekdaySet(time.Sunday, time.Monday, time.Tuesday, time.Wednesday),
		Start:    12 * time.Hour,
		End:      14*time.Hour + 50*time.Minute,
		Step:     10 * time.Minute,
		Location: loc,
		Days:     7,
	}
}

func TestBoundaries_StrictlyIncreasingAfterNow(t *testing.T) {
	loc := madrid(t)
	now := time.Date(2025, 12, 15, 13, 5, 0, 0, loc) // Monday

	var got []time.Time
	for b := range releaseWindow(loc).Boundaries(now) {
		got = append(got, b)
	}

	require.Len(t, got, 11+18*4)
	assert.True(t, time.Date(2025, 12, 15, 13, 10, 0, 0, loc).Equal(got[0]), got[0].String())
	assert.True(t, time.Date(2025, 12, 22, 14, 50, 0, 0, loc).Equal(got[len(got)-1]), got[len(got)-1].String())
	prev := now
	for _, b := range got {
		assert.True(t, b.After(prev), "%s after %s", b, prev)
		assert.True(t, NewWeekdaySet(time.Sunday, time.Monday, time.Tuesday, time.Wednesday).Has(b.Weekday()))
		prev = b
	}
}

func TestBoundaries_BoundaryEqualToNowIsSkipped(t *testing.T) {
	loc := madrid(t)
	now := time.Date(2025, 12, 15, 12, 0, 0, 0, loc)

	first := Take(releaseWindow(loc).Boundaries(now), 1)
	require.Len(t, first, 1)
	assert.True(t, time.Date(2025, 12, 15, 12, 10, 0, 0, loc).Equal(first[0]), first[0].String())
}

func TestBoundaries_WallClockAcrossDST(t *testing.T) {
	loc := madrid(t)
	w := releaseWindow(loc)
	w.Weekdays = NewWeekdaySet(time.Sunday)
	w.End = w.Start
	w.Days = 8
	now := time.Date(2025, 10, 18, 9, 0, 0, 0, loc)

	got := Take(w.Boundaries(now), 10)
	require.Len(t, got, 2)
	for _, b := range got {
		assert.Equal(t, 12, b.Hour(), b.String())
		assert.Equal(t, 0, b.Minute())
	}
	assert.Equal(t, 7*24*time.Hour+time.Hour, got[1].Sub(got[0]))
}

func TestBoundaries_FractionalStep(t *testing.T) {
	loc := madrid(t)
	w := Window{
		Weekdays: NewWeekdaySet(time.Monday),
		Start:    12 * time.Hour,
		End:      12*time.Hour + time.Second,
		Step:     60 * time.Millisecond,
		Location: loc,
	}
	got := Take(w.Boundaries(time.Date(2025, 12, 15, 8, 0, 0, 0, loc)), 100)
	assert.Len(t, got, 17)
	assert.Equal(t, 60*time.Millisecond, got[1].Sub(got[0]))
}

func TestBoundaries_Empty(t *testing.T) {
	loc := madrid(t)
	now := time.Date(2025, 12, 15, 8, 0, 0, 0, loc)

	w := releaseWindow(loc)
	w.Weekdays = 0
	assert.Empty(t, Take(w.Boundaries(now), 5))

	w = releaseWindow(loc)
	w.Step = 0
	assert.Empty(t, Take(w.Boundaries(now), 5))
}

func TestTake_StopsEarly(t *testing.T) {
	loc := madrid(t)
	yielded := 0
	seq := releaseWindow(loc).Boundaries(time.Date(2025, 12, 15, 8, 0, 0, 0, loc))
	for range seq {
		yielded++
		if yielded == 3 {
			break
		}
	}
	assert.Equal(t, 3, yielded)
	assert.Len(t, Take(seq, 3), 3)
	assert.Empty(t, Take(seq, 0))
}

func TestWeekdaySet(t *testing.T) {
	s := NewWeekdaySet(time.Sunday, time.Wednesday)
	assert.True(t, s.Has(time.Sunday))
	assert.False(t, s.Has(time.Monday))
	assert.Equal(t, "Sun,Wed", s.String())
}
