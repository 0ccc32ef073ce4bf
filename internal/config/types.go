package config

// Config is the on-disk configuration (JSON or YAML). Environment variables
// override selected fields after parsing; see ApplyEnv.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls the timer facility and the fixed daily jobs.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of fired jobs. Omitted means defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier     *NotifierConfig    `json:"notifier,omitempty"`
	Storage      StorageConfig      `json:"storage"`
	TimeSource   TimeSourceConfig   `json:"timesource"`
	Subscription SubscriptionConfig `json:"subscription"`

	// Broadcasts replaces the built-in morning/evening azkar when non-empty.
	Broadcasts []BroadcastConfig `json:"broadcasts,omitempty"`

	HTTP HTTPConfig `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives operator log lines. Empty means
	// the first owner.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// WebhookURL switches from long polling to a webhook.
	WebhookURL string `json:"webhook_url,omitempty"`
	Listen     string `json:"listen,omitempty"`
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

// SchedulerConfig controls the timer facility.
//
// SweepAt must precede PlannerAt so that subscribers expiring today never
// get today's notifications.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // default Asia/Damascus

	SweepAt   string `json:"sweep_at,omitempty"`   // "HH:MM", default 00:05
	PlannerAt string `json:"planner_at,omitempty"` // "HH:MM", default 01:00

	// JobTimeout bounds a single fired job (Go duration string).
	JobTimeout string `json:"job_timeout,omitempty"`

	// CatchUp runs the planner once at startup. Default true.
	CatchUp *bool `json:"catch_up,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 1024
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// NotifierConfig controls delivery. Durations are Go duration strings.
// If the section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// NotifierOrDefault returns the notifier section, or the defaults used when
// it is omitted.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c.Notifier != nil {
		return *c.Notifier
	}
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      25,
		SendTimeout:     "10s",
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

// StorageConfig selects the subscriber store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./adhanbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int    `json:"max_conns,omitempty"`    // postgres
}

// TimeSourceConfig selects where prayer times come from.
//
// Driver: "aladhan" (default), "solar", or "aladhan+solar" (solar answers
// when the API fails).
type TimeSourceConfig struct {
	Driver      string  `json:"driver,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Country     string  `json:"country,omitempty"`
	Method      int     `json:"method,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Parallelism int     `json:"parallelism,omitempty"`
}

type SubscriptionConfig struct {
	ValidityDays int    `json:"validity_days,omitempty"`
	PriceText    string `json:"price_text,omitempty"`
	PaymentCode  string `json:"payment_code,omitempty"`
	QRFileID     string `json:"qr_file_id,omitempty"`
}

type BroadcastConfig struct {
	Name    string   `json:"name"`
	At      string   `json:"at"`
	Content []string `json:"content"`
}

// HTTPConfig controls the operational HTTP server.
type HTTPConfig struct {
	Enabled     bool     `json:"enabled"`
	Addr        string   `json:"addr,omitempty"` // default 127.0.0.1:8080
	CORSOrigins []string `json:"cors_origins,omitempty"`
	Pprof       bool     `json:"pprof,omitempty"`
}

// Default is the configuration used when no file exists; a deployment can
// then run from environment variables alone.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true, Timezone: DefaultTimezone},
		Storage:   StorageConfig{Driver: "sqlite", Path: "adhanbot.db"},
	}
}

const (
	DefaultTimezone  = "Asia/Damascus"
	DefaultSweepAt   = "00:05"
	DefaultPlannerAt = "01:00"
)
