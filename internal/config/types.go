package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "30s", "1m"). Unknown keys
// are rejected.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Relay    RelayConfig    `json:"relay"`
	Logging  LoggingConfig  `json:"logging"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID optionally pre-registers the delivery chat so polling starts
	// without waiting for /start.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
	// PollTimeout is the getUpdates long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// ParseMode is "" (plain text) or "HTML".
	ParseMode string `json:"parse_mode,omitempty"`
}

// SourceConfig selects where notifications come from.
//
// Driver values:
//   - "http": GET <base_url><path>, JSON object or array
//   - "sqlite": local database file, rows flagged is_sent after fetch
//   - "postgres": same as sqlite on a Postgres DSN
type SourceConfig struct {
	Driver  string `json:"driver"`
	BaseURL string `json:"base_url,omitempty"`
	Path    string `json:"path,omitempty"`
	Timeout string `json:"timeout,omitempty"`

	DSN         string `json:"dsn,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RelayConfig controls the poll/dispatch loop.
//
// Defaults (when omitted/zero):
//   - interval: "5s" (also accepts "HH:MM" or a cron expression)
//   - delivery_timeout: "30s"
//   - rate_per_sec: 1
//   - dedup_capacity: 1000, dedup_retain: 500
//   - timezone: fixed UTC+3
//   - comment_limit: 200
type RelayConfig struct {
	Interval        string `json:"interval,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	DedupCapacity   int    `json:"dedup_capacity,omitempty"`
	DedupRetain     int    `json:"dedup_retain,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	CommentLimit    int    `json:"comment_limit,omitempty"`
	// ManualDedup makes manual checks consult the tracker too.
	ManualDedup bool `json:"manual_dedup,omitempty"`
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
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OpsConfig controls the operational HTTP server (/healthz, /metrics, pprof).
//
// Prefer a loopback Addr. A non-loopback Addr requires Token or AllowInsecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
