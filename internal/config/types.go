package config

// Config is the whole file. YAML files are converted to JSON and decoded
// strictly, so unknown keys fail the load.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Upstream     UpstreamConfig     `json:"upstream"`
	Poller       PollerConfig       `json:"poller"`
	Notifier     *NotifierConfig    `json:"notifier,omitempty"`
	Storage      StorageConfig      `json:"storage"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
	Status       StatusConfig       `json:"status"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may use the bot; empty allows everyone.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// Recipients are the chats that receive match notifications.
	Recipients []int64 `json:"recipients"`
	// GroupLog is the chat id that receives log alerts.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// UpstreamConfig describes the coefficient feed and its request quota.
//
// Defaults: url is the public acceptance coefficients endpoint,
// requests_per_minute 6, window "1m", timeout "15s".
type UpstreamConfig struct {
	URL               string `json:"url"`
	Token             string `json:"token"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	Window            string `json:"window"`
	Timeout           string `json:"timeout"`
}

// PollerConfig controls the background loops. Pointers tell an omitted
// key apart from an explicit false.
type PollerConfig struct {
	Enabled            *bool  `json:"enabled,omitempty"`
	NotifyInterval     string `json:"notify_interval"`
	ExcludeUnavailable *bool  `json:"exclude_unavailable,omitempty"`
}

// IsEnabled defaults to true.
func (p PollerConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// SkipUnavailable defaults to true: coefficient -1 never matches.
func (p PollerConfig) SkipUnavailable() bool { return p.ExcludeUnavailable == nil || *p.ExcludeUnavailable }

// NotifierConfig controls the async notification pipeline. When the whole
// section is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects the database.
//
//	storage: { driver: sqlite, path: ./coefbot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HousekeepingConfig schedules pruning of tracked dates that have passed.
type HousekeepingConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron spec, default "15 0 * * *"
	Timezone string `json:"timezone,omitempty"`
}

// StatusConfig controls the read-only HTTP status endpoint. Bind it to
// localhost unless something in front of it handles access.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8089"
	Pprof   bool   `json:"pprof,omitempty"`
}
