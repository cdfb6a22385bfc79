package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultHousekeepingSchedule = "15 0 * * *"
	DefaultStatusAddr           = "127.0.0.1:8089"
	DefaultStoragePath          = "./coefbot.db"
)

// CronParser accepts standard five-field specs with an optional seconds
// field and descriptors such as @daily.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks everything that can be checked without side effects.
// The telegram token is not required here; commands that need it check.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if _, _, err := cfg.Telegram.GroupLogChatID(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Upstream.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("upstream.requests_per_minute must be >= 0"))
	}
	dur("upstream.window", cfg.Upstream.Window)
	dur("upstream.timeout", cfg.Upstream.Timeout)

	dur("poller.notify_interval", cfg.Poller.NotifyInterval)

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			errs = append(errs, errors.New("notifier: counts must be >= 0"))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if cfg.Housekeeping.Enabled {
		if _, err := CronParser.Parse(cfg.Housekeeping.ScheduleOrDefault()); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.schedule: %w", err))
		}
		if tz := strings.TrimSpace(cfg.Housekeeping.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("housekeeping.timezone: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// GroupLogChatID parses group_log. ok is false when it is unset.
func (t TelegramConfig) GroupLogChatID() (id int64, ok bool, err error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("telegram.group_log: invalid chat id %q", t.GroupLog)
	}
	return id, true, nil
}

func (t TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return durationOr(t.PollTimeout, 10*time.Second)
}

func (u UpstreamConfig) WindowOrDefault() time.Duration {
	return durationOr(u.Window, time.Minute)
}

func (u UpstreamConfig) TimeoutOrDefault() time.Duration {
	return durationOr(u.Timeout, 15*time.Second)
}

func (p PollerConfig) NotifyIntervalOrDefault() time.Duration {
	return durationOr(p.NotifyInterval, 12*time.Second)
}

func (s StorageConfig) DriverOrDefault() string {
	if d := strings.ToLower(strings.TrimSpace(s.Driver)); d != "" {
		return d
	}
	return "sqlite"
}

func (s StorageConfig) PathOrDefault() string {
	if p := strings.TrimSpace(s.Path); p != "" {
		return p
	}
	return DefaultStoragePath
}

func (s StorageConfig) BusyTimeoutOrDefault() time.Duration {
	return durationOr(s.BusyTimeout, time.Second)
}

func (h HousekeepingConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(h.Schedule); s != "" {
		return s
	}
	return DefaultHousekeepingSchedule
}

// Location is UTC unless a valid timezone is set.
func (h HousekeepingConfig) Location() *time.Location {
	if tz := strings.TrimSpace(h.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

func (s StatusConfig) AddrOrDefault() string {
	if a := strings.TrimSpace(s.Addr); a != "" {
		return a
	}
	return DefaultStatusAddr
}
