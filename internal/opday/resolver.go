// Package opday resolves the restaurant's operational day.
//
// An operational day runs from the cutover hour (05:00 by default) to just
// before the cutover hour of the next calendar day, in a fixed reference
// zone (UTC-3, no daylight saving). Sales and COMPs issued after midnight
// but before the cutover belong to the previous day, so a night's closing
// is never split across two dates.
package opday

import (
	"fmt"
	"time"

	"github.com/goodtune/comptrack/internal/clock"
)

const (
	// DefaultUTCOffset is the fixed offset of the reference zone.
	DefaultUTCOffset = -3 * time.Hour

	// DefaultCutoverHour is the local hour at which the operational day advances.
	DefaultCutoverHour = 5

	// DefaultMorningStartHour is the first hour of the morning turn.
	DefaultMorningStartHour = 5

	// DefaultNightStartHour is the first hour of the night turn.
	DefaultNightStartHour = 17

	maxUTCOffset = 14 * time.Hour

	labelLayout = "02/01/2006"
)

// Turn is the shift an instant falls in.
type Turn string

const (
	TurnMorning Turn = "morning"
	TurnNight   Turn = "night"
)

// Config holds resolver configuration.
type Config struct {
	UTCOffset        time.Duration
	CutoverHour      int
	MorningStartHour int
	NightStartHour   int
}

// DefaultConfig returns the restaurant's standard boundaries.
func DefaultConfig() Config {
	return Config{
		UTCOffset:        DefaultUTCOffset,
		CutoverHour:      DefaultCutoverHour,
		MorningStartHour: DefaultMorningStartHour,
		NightStartHour:   DefaultNightStartHour,
	}
}

// Validate checks the configured hours and offset.
func (c Config) Validate() error {
	if c.UTCOffset%time.Minute != 0 || c.UTCOffset < -maxUTCOffset || c.UTCOffset > maxUTCOffset {
		return fmt.Errorf("invalid utc offset: %s", c.UTCOffset)
	}
	hours := []struct {
		name string
		hour int
	}{
		{"cutover_hour", c.CutoverHour},
		{"morning_start_hour", c.MorningStartHour},
		{"night_start_hour", c.NightStartHour},
	}
	for _, h := range hours {
		if h.hour < 0 || h.hour > 23 {
			return fmt.Errorf("invalid %s: %d", h.name, h.hour)
		}
	}
	if c.MorningStartHour >= c.NightStartHour {
		return fmt.Errorf("morning_start_hour (%d) must be before night_start_hour (%d)",
			c.MorningStartHour, c.NightStartHour)
	}
	return nil
}

// Resolver maps instants to operational days and turns.
type Resolver struct {
	cfg   Config
	loc   *time.Location
	clock clock.Clock
}

// Info describes the operational context of an instant.
type Info struct {
	At    time.Time `json:"at"`
	Day   Day       `json:"day"`
	Label string    `json:"label"`
	Turn  Turn      `json:"turn"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New creates a resolver. A nil clock uses the system clock.
func New(cfg Config, clk clock.Clock) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Resolver{
		cfg:   cfg,
		loc:   fixedZone(cfg.UTCOffset),
		clock: clk,
	}, nil
}

func fixedZone(offset time.Duration) *time.Location {
	sign := "+"
	abs := offset
	if offset < 0 {
		sign = "-"
		abs = -offset
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, int(abs.Hours()), int(abs.Minutes())%60)
	return time.FixedZone(name, int(offset.Seconds()))
}

// Location returns the reference zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// DayAt returns the operational day t belongs to.
func (r *Resolver) DayAt(t time.Time) Day {
	local := t.In(r.loc)
	day := dayOf(local)
	if local.Hour() < r.cfg.CutoverHour {
		return day.Prev()
	}
	return day
}

// Current returns the operational day of the clock's current time.
func (r *Resolver) Current() Day {
	return r.DayAt(r.clock.Now())
}

// TurnAt returns the turn t falls in.
func (r *Resolver) TurnAt(t time.Time) Turn {
	h := t.In(r.loc).Hour()
	if h >= r.cfg.MorningStartHour && h < r.cfg.NightStartHour {
		return TurnMorning
	}
	return TurnNight
}

// CurrentTurn returns the turn of the clock's current time.
func (r *Resolver) CurrentTurn() Turn {
	return r.TurnAt(r.clock.Now())
}

// Bounds returns the half-open window [start, end) covered by day.
func (r *Resolver) Bounds(day Day) (time.Time, time.Time) {
	cutover := time.Duration(r.cfg.CutoverHour) * time.Hour
	start := day.date(r.loc).Add(cutover)
	end := day.Next().date(r.loc).Add(cutover)
	return start, end
}

// Describe returns day, label, turn and bounds for t.
func (r *Resolver) Describe(t time.Time) Info {
	day := r.DayAt(t)
	start, end := r.Bounds(day)
	return Info{
		At:    t.In(r.loc),
		Day:   day,
		Label: FormatRange(day),
		Turn:  r.TurnAt(t),
		Start: start,
		End:   end,
	}
}

// FormatRange renders the day as "DD/MM/YYYY a DD/MM/YYYY", the day itself
// and the calendar date on which it closes.
func FormatRange(day Day) string {
	return fmt.Sprintf("%s a %s",
		day.date(time.UTC).Format(labelLayout),
		day.Next().date(time.UTC).Format(labelLayout))
}
