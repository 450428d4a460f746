package scheduler

import (
	"fmt"
	"time"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

// Window is an account's working-hour window in its own timezone. Start and
// End are minutes after local midnight; Start > End wraps past midnight and
// Start == End covers the whole day.
type Window struct {
	Enabled bool
	Start   int
	End     int
	Loc     *time.Location
}

func NewWindow(wh models.WorkingHours) (Window, error) {
	loc := time.UTC
	if wh.Timezone != "" {
		l, err := time.LoadLocation(wh.Timezone)
		if err != nil {
			return Window{}, fmt.Errorf("timezone %q: %w", wh.Timezone, models.ErrInvalidSettings)
		}
		loc = l
	}
	w := Window{Enabled: wh.Enabled, Loc: loc}
	if !wh.Enabled {
		return w, nil
	}
	var err error
	if w.Start, err = clock(wh.Start); err != nil {
		return Window{}, err
	}
	if w.End, err = clock(wh.End); err != nil {
		return Window{}, err
	}
	return w, nil
}

func clock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("working hours %q: %w", s, models.ErrInvalidSettings)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w Window) Contains(t time.Time) bool {
	if !w.Enabled || w.Start == w.End {
		return true
	}
	local := t.In(w.Loc)
	m := local.Hour()*60 + local.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// NextOpen returns t when the window is open, otherwise the next opening instant.
func (w Window) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	local := t.In(w.Loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), w.Start/60, w.Start%60, 0, 0, w.Loc)
	if !open.After(local) {
		open = time.Date(local.Year(), local.Month(), local.Day()+1, w.Start/60, w.Start%60, 0, 0, w.Loc)
	}
	return open
}

// Day is the account-local calendar day of t, the key of the daily send counter.
func (w Window) Day(t time.Time) string {
	loc := w.Loc
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
