// Package timeutil provides civil-date helpers bound to one reference timezone.
// Streaks and "first session of the day" are bucketed by calendar date in that
// zone, never by elapsed seconds, so every helper here works on dates rather
// than durations.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical textual form of a civil date.
const DateLayout = "2006-01-02"

// Noon and the end of the "after midnight" window, in local hours.
const (
	NoonHour          = 12
	AfterMidnightFrom = 0
	AfterMidnightTo   = 5
)

// offsetRegex matches fixed offsets such as "+05:00", "UTC+5", "UTC-03:30".
var offsetRegex = regexp.MustCompile(`^(?i:utc|gmt)?([+-])(\d{1,2})(?::?(\d{2}))?$`)

// LoadLocation resolves a zone name. IANA names are tried first; fixed offsets
// ("UTC+5", "+05:00") are accepted for hosts without tzdata.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}

	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}

	m := offsetRegex.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q", name)
	}

	hours, _ := strconv.Atoi(m[2])
	minutes := 0
	if m[3] != "" {
		minutes, _ = strconv.Atoi(m[3])
	}
	if hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("timeutil: offset out of range %q", name)
	}

	offset := hours*3600 + minutes*60
	if m[1] == "-" {
		offset = -offset
	}
	return time.FixedZone(name, offset), nil
}

// DateOf returns the civil date of t in loc, normalized to midnight UTC so that
// dates compare and subtract without DST artefacts.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeDate strips the clock part of an already-civil date.
func NormalizeDate(d time.Time) time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from one civil date to
// another. Negative when to is before from.
func DaysBetween(from, to time.Time) int {
	from = NormalizeDate(from)
	to = NormalizeDate(to)
	return int(to.Sub(from).Hours() / 24)
}

// LocalHour returns the wall-clock hour of t in loc.
func LocalHour(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Hour()
}

// IsBeforeNoon reports whether t falls before 12:00 local time.
func IsBeforeNoon(t time.Time, loc *time.Location) bool {
	return LocalHour(t, loc) < NoonHour
}

// IsAfterMidnight reports whether t falls in the 00:00-04:59 local window.
func IsAfterMidnight(t time.Time, loc *time.Location) bool {
	h := LocalHour(t, loc)
	return h >= AfterMidnightFrom && h < AfterMidnightTo
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of the local day containing t.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// FormatDate renders a civil date as YYYY-MM-DD. Zero dates render empty.
func FormatDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// ParseDate parses YYYY-MM-DD into a normalized civil date. The empty string
// yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: parse date %q: %w", s, err)
	}
	return d, nil
}

// FormatDuration renders seconds as "1h 05m" for human-facing output.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}
