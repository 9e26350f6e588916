package opday

import (
	"fmt"
	"time"
)

// dayLayout is the storage and wire format of an operational day.
const dayLayout = "2006-01-02"

// Day identifies an operational day by its calendar date in the reference zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDay parses a YYYY-MM-DD operational day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid operational day %q: %w", s, err)
	}
	return dayOf(t), nil
}

func dayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// String returns the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d == Day{}
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return d.AddDays(1)
}

// Prev returns the preceding calendar day.
func (d Day) Prev() Day {
	return d.AddDays(-1)
}

// Before reports whether d is earlier than other.
func (d Day) Before(other Day) bool {
	return d.date(time.UTC).Before(other.date(time.UTC))
}

// AddDays returns the day n calendar days after d.
func (d Day) AddDays(n int) Day {
	return dayOf(d.date(time.UTC).AddDate(0, 0, n))
}

// date returns midnight of d in loc. time.Date normalizes out-of-range days.
func (d Day) date(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
