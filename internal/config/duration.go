package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses a duration setting at path. Blank is 0 and a
// bare integer is taken as seconds, so "12" and "12s" agree.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseInt(s, 10, 32); err == nil {
		d = time.Duration(secs) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// durationOr falls back to def when raw is blank, zero or invalid. Validate
// reports invalid values, so callers here only need the effective one.
func durationOr(raw string, def time.Duration) time.Duration {
	if d, err := ParseDurationField("", raw); err == nil && d > 0 {
		return d
	}
	return def
}
