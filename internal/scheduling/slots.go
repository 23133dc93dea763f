// Package scheduling holds the interval arithmetic behind slot availability:
// the daily working-hours template and the half-open overlap test.
package scheduling

import (
	"errors"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	ErrMissingDate = errors.New("date is required")
	ErrInvalidDate = errors.New("date must be formatted as YYYY-MM-DD")
)

// Interval is a half-open time window [StartTime, EndTime).
type Interval struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching intervals (one ends exactly when the other starts) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.StartTime.Before(o.EndTime) && i.EndTime.After(o.StartTime)
}

// Valid reports whether the interval ends strictly after it starts.
func (i Interval) Valid() bool {
	return i.EndTime.After(i.StartTime)
}

func (i Interval) Duration() time.Duration {
	return i.EndTime.Sub(i.StartTime)
}

// Template is the fixed daily working-hours grid.
type Template struct {
	StartHour  int
	EndHour    int
	SlotLength time.Duration
	Location   *time.Location
}

// DefaultTemplate is 09:00-17:00 in one-hour slots.
func DefaultTemplate() Template {
	return Template{StartHour: 9, EndHour: 17, SlotLength: time.Hour, Location: time.Local}
}

func (t Template) location() *time.Location {
	if t.Location == nil {
		return time.Local
	}
	return t.Location
}

// DayBounds returns midnight-to-midnight for the calendar day containing day,
// in the template's location.
func (t Template) DayBounds(day time.Time) Interval {
	loc := t.location()
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return Interval{StartTime: start, EndTime: start.AddDate(0, 0, 1)}
}

// Candidates lists every template slot for the calendar day containing day.
// A trailing remainder shorter than SlotLength is not offered.
func (t Template) Candidates(day time.Time) []Interval {
	if t.SlotLength <= 0 || t.EndHour <= t.StartHour {
		return nil
	}
	loc := t.location()
	y, m, d := day.In(loc).Date()
	open := time.Date(y, m, d, t.StartHour, 0, 0, 0, loc)
	closing := time.Date(y, m, d, t.EndHour, 0, 0, 0, loc)

	var out []Interval
	for s := open; !s.Add(t.SlotLength).After(closing); s = s.Add(t.SlotLength) {
		out = append(out, Interval{StartTime: s, EndTime: s.Add(t.SlotLength)})
	}
	return out
}

// Free filters candidates down to those that start strictly after now and do
// not intersect any booked interval, in chronological order.
func Free(candidates, booked []Interval, now time.Time) []Interval {
	out := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if !c.StartTime.After(now) {
			continue
		}
		if overlapsAny(c, booked) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Available is Candidates followed by Free for one calendar day.
func (t Template) Available(day time.Time, booked []Interval, now time.Time) []Interval {
	return Free(t.Candidates(day), booked, now)
}

func overlapsAny(c Interval, booked []Interval) bool {
	for _, b := range booked {
		if c.Overlaps(b) {
			return true
		}
	}
	return false
}

// ParseDate accepts YYYY-MM-DD (or a full RFC 3339 timestamp, of which only
// the calendar date in loc is kept).
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrMissingDate
	}
	if loc == nil {
		loc = time.Local
	}
	if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		y, m, d := ts.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, ErrInvalidDate
}
