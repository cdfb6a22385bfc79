package supply

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the canonical tracked-date representation.
const DayLayout = "2006-01-02"

// Day keeps the calendar date of t as written, dropping time of day and
// offset, and returns it as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(t time.Time) string { return Day(t).Format(DayLayout) }

// ParseDay accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DayLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Day(t), nil
}

// Upcoming lists n consecutive days starting at from's calendar date.
func Upcoming(from time.Time, n int) []time.Time {
	start := Day(from)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start.AddDate(0, 0, i))
	}
	return out
}
