package app

import (
	"time"

	"coefbot/internal/config"
	"coefbot/internal/housekeeping"
	"coefbot/internal/notifier"
	"coefbot/internal/poller"
	"coefbot/internal/status"
	"coefbot/internal/storage"
	"coefbot/internal/transport"
	"coefbot/internal/upstream"
	logx "coefbot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
	if id, ok, err := cfg.Telegram.GroupLogChatID(); err == nil && ok {
		out.Alerts.ChatID = id
	} else {
		// Without a target chat alerts stay off instead of warning on every Apply.
		out.Alerts.Enabled = false
	}
	return out
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.DriverOrDefault(),
		Path:        cfg.Storage.PathOrDefault(),
		BusyTimeout: cfg.Storage.BusyTimeoutOrDefault(),
	}
}

func mapUpstream(cfg *config.Config) upstream.Config {
	u := cfg.Upstream
	return upstream.Config{
		URL:               u.URL,
		Token:             u.Token,
		RequestsPerWindow: u.RequestsPerMinute,
		Window:            u.WindowOrDefault(),
		Timeout:           u.TimeoutOrDefault(),
		UserAgent:         "coefbot/1",
	}
}

func mapPoller(cfg *config.Config, refresh time.Duration) poller.Config {
	return poller.Config{
		RefreshInterval:    refresh,
		NotifyInterval:     cfg.Poller.NotifyIntervalOrDefault(),
		ExcludeUnavailable: cfg.Poller.SkipUnavailable(),
	}
}

// mapNotifier enables the pipeline with defaults when the section is absent.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, PersistDedup: true}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func mapHousekeeping(cfg *config.Config) housekeeping.Config {
	h := cfg.Housekeeping
	return housekeeping.Config{
		Enabled:  h.Enabled,
		Schedule: h.ScheduleOrDefault(),
		Location: h.Location(),
	}
}

func mapStatus(cfg *config.Config) status.Config {
	return status.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.AddrOrDefault(),
		Pprof:   cfg.Status.Pprof,
	}
}

func recipientTargets(cfg *config.Config) []transport.ChatTarget {
	out := make([]transport.ChatTarget, 0, len(cfg.Telegram.Recipients))
	for _, id := range cfg.Telegram.Recipients {
		out = append(out, transport.ChatTarget{ChatID: id})
	}
	return out
}
