package config

// Config is the root bot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Environment variables named in env tags override file values.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	Token       string `json:"token" env:"BOT_TOKEN" validate:"required"`
	PollTimeout string `json:"poll_timeout,omitempty" env:"BOT_POLL_TIMEOUT" validate:"omitempty,duration"`
	// APIURL points at a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty" env:"BOT_API_URL" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level   string       `json:"level" env:"LOG_LEVEL" validate:"omitempty,loglevel"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Chat    LoggingChat  `json:"chat"`
	Store   LoggingStore `json:"store"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// LoggingChat mirrors records into a Telegram chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id" env:"LOG_CHAT_ID" validate:"required_if=Enabled true"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,loglevel"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// LoggingStore persists records through the storage backend.
type LoggingStore struct {
	Enabled   bool   `json:"enabled"`
	MinLevel  string `json:"min_level,omitempty" validate:"omitempty,loglevel"`
	QueueSize int    `json:"queue_size,omitempty" validate:"gte=0"`
}

// SchedulerConfig controls the reminder check loop.
//
// Defaults: interval 60s, grace 5m, store_timeout 10s, default_timezone UTC.
type SchedulerConfig struct {
	Interval     string `json:"interval,omitempty" env:"SCHEDULER_INTERVAL" validate:"omitempty,duration"`
	Grace        string `json:"grace,omitempty" env:"SCHEDULER_GRACE" validate:"omitempty,duration"`
	StoreTimeout string `json:"store_timeout,omitempty" validate:"omitempty,duration"`
	// DefaultTimezone applies to users that never picked a zone.
	DefaultTimezone string `json:"default_timezone,omitempty" env:"BOT_TIMEZONE" validate:"omitempty,iana"`
}

// NotifierConfig controls the async delivery pipeline.
//
// Defaults: workers 2, queue_size 256, rate_per_sec 20, retry_max 0,
// dedup_window 10m.
type NotifierConfig struct {
	Workers         int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize       int    `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax        int    `json:"retry_max,omitempty" validate:"gte=0,lte=20"`
	RetryBase       string `json:"retry_base,omitempty" validate:"omitempty,duration"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty" validate:"omitempty,duration"`
	SendTimeout     string `json:"send_timeout,omitempty" validate:"omitempty,duration"`
	DedupWindow     string `json:"dedup_window,omitempty" validate:"omitempty,duration"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty" validate:"gte=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"STORAGE_DRIVER" validate:"omitempty,oneof=sqlite sqlite3 postgres mongo"`
	Path        string `json:"path,omitempty" env:"STORAGE_PATH"`
	DSN         string `json:"dsn,omitempty" env:"STORAGE_DSN"`
	Database    string `json:"database,omitempty" env:"STORAGE_DATABASE"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`

	MaxConns        int32  `json:"max_conns,omitempty" validate:"gte=0"`
	MinConns        int32  `json:"min_conns,omitempty" validate:"gte=0"`
	ConnMaxLifetime string `json:"conn_max_lifetime,omitempty" validate:"omitempty,duration"`
	ConnectTimeout  string `json:"connect_timeout,omitempty" validate:"omitempty,duration"`
}

// OpsConfig controls the optional health/stats/pprof HTTP server.
//
// Bind to loopback unless a token is set or allow_insecure is true.
type OpsConfig struct {
	Enabled       bool   `json:"enabled" env:"OPS_ENABLED"`
	Addr          string `json:"addr,omitempty" env:"OPS_ADDR" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty" env:"OPS_TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	IdleTimeout  string `json:"idle_timeout,omitempty" validate:"omitempty,duration"`
}
