package config

import (
	"reflect"
	"strings"

	logx "coefbot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe attributes for
// logging them. Tokens never appear in the attributes.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		!reflect.DeepEqual(ot.Recipients, nt.Recipients) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.recipient_count", len(nt.Recipients)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ou, nu := oldCfg.Upstream, newCfg.Upstream
	if ou.URL != nu.URL || ou.Token != nu.Token || ou.RequestsPerMinute != nu.RequestsPerMinute ||
		ou.Window != nu.Window || ou.Timeout != nu.Timeout {
		changed = append(changed, "upstream")
		attrs = append(attrs,
			logx.String("upstream.url", nu.URL),
			logx.Int("upstream.requests_per_minute", nu.RequestsPerMinute),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poller, newCfg.Poller) {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.Bool("poller.enabled", newCfg.Poller.IsEnabled()),
			logx.Duration("poller.notify_interval", newCfg.Poller.NotifyIntervalOrDefault()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs, logx.Bool("notifier.enabled", n.Enabled), logx.Int("notifier.workers", n.Workers))
		}
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
		attrs = append(attrs, logx.String("housekeeping.schedule", newCfg.Housekeeping.ScheduleOrDefault()))
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}
	return changed, attrs
}

// RestartRequired lists changed sections that only apply on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Upstream != newCfg.Upstream {
		out = append(out, "upstream")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Status != newCfg.Status {
		out = append(out, "status")
	}
	if oldCfg.Housekeeping != newCfg.Housekeeping {
		out = append(out, "housekeeping")
	}
	return out
}
