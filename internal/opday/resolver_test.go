package opday

import (
	"testing"
	"time"

	"github.com/goodtune/comptrack/internal/clock"
)

var brt = time.FixedZone("BRT", -3*60*60)

func newTestResolver(t *testing.T, clk clock.Clock) *Resolver {
	t.Helper()
	r, err := New(DefaultConfig(), clk)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return r
}

func local(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, brt)
}

func TestResolver_DayAt(t *testing.T) {
	r := newTestResolver(t, nil)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"exactly at cutover", local(2024, 5, 1, 5, 0), "2024-05-01"},
		{"late night before midnight", local(2024, 5, 1, 23, 59), "2024-05-01"},
		{"after midnight before cutover", local(2024, 5, 2, 4, 59), "2024-05-01"},
		{"midnight", local(2024, 5, 2, 0, 0), "2024-05-01"},
		{"one minute before cutover on the first", local(2024, 5, 1, 4, 59), "2024-04-30"},
		{"new year early morning", local(2024, 1, 1, 2, 30), "2023-12-31"},
		{"leap day early morning", local(2024, 3, 1, 1, 0), "2024-02-29"},
		{"noon", local(2024, 5, 1, 12, 0), "2024-05-01"},
		{"utc instant after local cutover", time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), "2024-05-01"},
		{"utc instant before local cutover", time.Date(2024, 5, 1, 7, 59, 0, 0, time.UTC), "2024-04-30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.DayAt(tt.at).String(); got != tt.want {
				t.Errorf("DayAt(%v) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestResolver_DayAtEveryHour(t *testing.T) {
	r := newTestResolver(t, nil)

	for h := 0; h < 24; h++ {
		at := local(2024, 7, 15, h, 30)
		want := "2024-07-15"
		if h < DefaultCutoverHour {
			want = "2024-07-14"
		}
		if got := r.DayAt(at).String(); got != want {
			t.Errorf("hour %02d: DayAt() = %s, want %s", h, got, want)
		}
	}
}

func TestResolver_DayAtIgnoresHostZone(t *testing.T) {
	r := newTestResolver(t, nil)

	// The same instant expressed in three zones must resolve identically.
	instant := local(2024, 5, 2, 3, 0)
	tokyo := time.FixedZone("JST", 9*60*60)
	for _, at := range []time.Time{instant, instant.UTC(), instant.In(tokyo)} {
		if got := r.DayAt(at).String(); got != "2024-05-01" {
			t.Errorf("DayAt(%v) = %s, want 2024-05-01", at, got)
		}
	}
}

func TestResolver_DayAtIsMonotonic(t *testing.T) {
	r := newTestResolver(t, nil)

	start := local(2024, 2, 27, 0, 0)
	prev := r.DayAt(start)
	for at := start; at.Before(start.Add(96 * time.Hour)); at = at.Add(15 * time.Minute) {
		day := r.DayAt(at)
		if day.Before(prev) {
			t.Fatalf("DayAt(%v) = %s went back from %s", at, day, prev)
		}
		if day != prev {
			if l := at.In(brt); l.Hour() != DefaultCutoverHour || l.Minute() != 0 {
				t.Fatalf("day advanced to %s at %v, want only at cutover", day, l)
			}
			if day != prev.Next() {
				t.Fatalf("day jumped from %s to %s", prev, day)
			}
		}
		prev = day
	}
}

func TestResolver_Current(t *testing.T) {
	clk := clock.NewFake(local(2024, 5, 2, 4, 0))
	r := newTestResolver(t, clk)

	if got := r.Current().String(); got != "2024-05-01" {
		t.Errorf("Current() = %s, want 2024-05-01", got)
	}

	clk.Advance(time.Hour)
	if got := r.Current().String(); got != "2024-05-02" {
		t.Errorf("Current() after cutover = %s, want 2024-05-02", got)
	}
}

func TestResolver_TurnAt(t *testing.T) {
	r := newTestResolver(t, nil)

	for h := 0; h < 24; h++ {
		want := TurnNight
		if h >= 5 && h < 17 {
			want = TurnMorning
		}
		if got := r.TurnAt(local(2024, 5, 1, h, 0)); got != want {
			t.Errorf("TurnAt(%02d:00) = %s, want %s", h, got, want)
		}
	}
}

func TestResolver_CurrentTurn(t *testing.T) {
	clk := clock.NewFake(local(2024, 5, 1, 16, 59))
	r := newTestResolver(t, clk)

	if got := r.CurrentTurn(); got != TurnMorning {
		t.Errorf("CurrentTurn() = %s, want morning", got)
	}
	clk.Advance(time.Minute)
	if got := r.CurrentTurn(); got != TurnNight {
		t.Errorf("CurrentTurn() = %s, want night", got)
	}
}

func TestResolver_Bounds(t *testing.T) {
	r := newTestResolver(t, nil)

	day := Day{Year: 2024, Month: time.May, Day: 31}
	start, end := r.Bounds(day)

	if want := local(2024, 5, 31, 5, 0); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := local(2024, 6, 1, 5, 0); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
	if r.DayAt(start) != day {
		t.Errorf("DayAt(start) = %s, want %s", r.DayAt(start), day)
	}
	if r.DayAt(end.Add(-time.Nanosecond)) != day {
		t.Errorf("DayAt(end-1ns) = %s, want %s", r.DayAt(end.Add(-time.Nanosecond)), day)
	}
	if r.DayAt(end) != day.Next() {
		t.Errorf("DayAt(end) = %s, want %s", r.DayAt(end), day.Next())
	}
}

func TestFormatRange(t *testing.T) {
	tests := []struct {
		day  string
		want string
	}{
		{"2024-05-01", "01/05/2024 a 02/05/2024"},
		{"2024-12-31", "31/12/2024 a 01/01/2025"},
		{"2024-02-28", "28/02/2024 a 29/02/2024"},
		{"2023-02-28", "28/02/2023 a 01/03/2023"},
	}

	for _, tt := range tests {
		day, err := ParseDay(tt.day)
		if err != nil {
			t.Fatalf("ParseDay(%s) failed: %v", tt.day, err)
		}
		if got := FormatRange(day); got != tt.want {
			t.Errorf("FormatRange(%s) = %q, want %q", tt.day, got, tt.want)
		}
	}
}

func TestResolver_Describe(t *testing.T) {
	r := newTestResolver(t, nil)

	info := r.Describe(local(2024, 5, 2, 1, 15))
	if info.Day.String() != "2024-05-01" {
		t.Errorf("Day = %s, want 2024-05-01", info.Day)
	}
	if info.Label != "01/05/2024 a 02/05/2024" {
		t.Errorf("Label = %q", info.Label)
	}
	if info.Turn != TurnNight {
		t.Errorf("Turn = %s, want night", info.Turn)
	}
	if !info.Start.Equal(local(2024, 5, 1, 5, 0)) {
		t.Errorf("Start = %v", info.Start)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"cutover out of range", func(c *Config) { c.CutoverHour = 24 }, true},
		{"negative morning", func(c *Config) { c.MorningStartHour = -1 }, true},
		{"turns inverted", func(c *Config) { c.MorningStartHour = 18 }, true},
		{"offset too large", func(c *Config) { c.UTCOffset = 15 * time.Hour }, true},
		{"offset with seconds", func(c *Config) { c.UTCOffset = -3*time.Hour - time.Second }, true},
		{"positive offset", func(c *Config) { c.UTCOffset = 5*time.Hour + 30*time.Minute }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateNamesFirstInvalidHour(t *testing.T) {
	cfg := Config{
		UTCOffset:        DefaultUTCOffset,
		CutoverHour:      30,
		MorningStartHour: 20,
		NightStartHour:   -3,
	}

	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		if err.Error() != "invalid cutover_hour: 30" {
			t.Fatalf("Expected cutover_hour error, got %v", err)
		}
	}
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("2024-05-01")
	if err != nil {
		t.Fatalf("ParseDay failed: %v", err)
	}
	if day.Year != 2024 || day.Month != time.May || day.Day != 1 {
		t.Errorf("ParseDay = %+v", day)
	}
	if day.Prev().String() != "2024-04-30" {
		t.Errorf("Prev() = %s", day.Prev())
	}

	for _, bad := range []string{"", "2024-13-01", "01/05/2024", "2024-05-32"} {
		if _, err := ParseDay(bad); err == nil {
			t.Errorf("ParseDay(%q) should fail", bad)
		}
	}
}
