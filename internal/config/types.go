package config

import "time"

// Config is the root configuration document (YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "4h").
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	News     NewsConfig      `yaml:"news"`
	LLM      LLMConfig       `yaml:"llm"`
	Cache    CacheConfig     `yaml:"cache"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Storage  StorageConfig   `yaml:"storage"`
	Delivery DeliveryConfig  `yaml:"delivery"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console bool        `yaml:"console"`
	File    LoggingFile `yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NewsConfig controls headline resolution and article fetching.
type NewsConfig struct {
	// DefaultKeywords are used when a subscriber (or ad-hoc query) supplies none.
	DefaultKeywords []string `yaml:"default_keywords"`

	// Limit is the target article count per digest.
	Limit int `yaml:"limit"`

	// Workers bounds concurrent fetch and condensation calls within one run.
	Workers int `yaml:"workers"`

	// FetchTimeout applies to each article fetch.
	FetchTimeout string `yaml:"fetch_timeout"`

	// FreshDays drops articles published more than this many days ago.
	FreshDays int `yaml:"fresh_days"`

	// Locale for the news search feed.
	Lang    string `yaml:"lang"`    // e.g. "zh-TW"
	Country string `yaml:"country"` // e.g. "TW"
	Edition string `yaml:"edition"` // e.g. "TW:zh-Hant"

	UserAgent string `yaml:"user_agent"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// CondenseModel runs stage 1 (per-article), AggregateModel stage 2.
	CondenseModel  string `yaml:"condense_model"`
	AggregateModel string `yaml:"aggregate_model"`

	// Timeout applies to each completion call.
	Timeout string `yaml:"timeout"`

	// MaxArticleChars truncates article text before condensation.
	MaxArticleChars int `yaml:"max_article_chars"`

	// RatePerMin bounds completion calls per minute (0 disables pacing).
	RatePerMin int `yaml:"rate_per_min"`
}

type CacheConfig struct {
	// TTL is the digest cache freshness window.
	TTL string `yaml:"ttl"`
}

type ScheduleConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Timezone string   `yaml:"timezone"` // IANA TZ, e.g. "Asia/Taipei"
	Specs    []string `yaml:"specs"`    // cron specs for batch pushes

	// RunOnStartup triggers one batch shortly after start.
	RunOnStartup bool `yaml:"run_on_startup"`
}

// StorageConfig selects the persistence backend.
//
// Driver values:
//   - "file": JSON snapshot documents (write-to-temp-then-rename)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"` // sqlite only
}

// DeliveryConfig selects the outbound messaging channel.
type DeliveryConfig struct {
	// Channel is "line" or "telegram".
	Channel string `yaml:"channel"`

	// MessageLimit is the transport's per-message size limit.
	// For LINE this is counted in UTF-16 code units.
	MessageLimit int `yaml:"message_limit"`

	// MinPushInterval spaces consecutive pushes to one recipient.
	MinPushInterval string `yaml:"min_push_interval"`

	// ShowReasoning delivers the model's reasoning segment as a separate
	// leading message before the digest.
	ShowReasoning bool `yaml:"show_reasoning"`

	Line     LineConfig     `yaml:"line"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LineConfig struct {
	ChannelToken  string `yaml:"channel_token"`
	ChannelSecret string `yaml:"channel_secret"`
	APIBase       string `yaml:"api_base,omitempty"`

	// WebhookAddr enables the inbound webhook server when set (e.g. ":8787").
	WebhookAddr string `yaml:"webhook_addr,omitempty"`
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	PollTimeout string `yaml:"poll_timeout,omitempty"`
}

// Defaults mirrored from the original deployment.
const (
	DefaultLimit           = 6
	DefaultWorkers         = 3
	DefaultFreshDays       = 3
	DefaultMaxArticleChars = 8000
	DefaultMessageLimit    = 5000
	DefaultTTL             = 4 * time.Hour
	DefaultFetchTimeout    = 30 * time.Second
	DefaultLLMTimeout      = 120 * time.Second
	DefaultPushInterval    = 1200 * time.Millisecond
)

// Normalize fills zero values with defaults. It does not validate.
func (c *Config) Normalize() {
	if c.News.Limit <= 0 {
		c.News.Limit = DefaultLimit
	}
	if c.News.Workers <= 0 {
		c.News.Workers = DefaultWorkers
	}
	if c.News.FreshDays <= 0 {
		c.News.FreshDays = DefaultFreshDays
	}
	if c.News.Lang == "" {
		c.News.Lang = "zh-TW"
	}
	if c.News.Country == "" {
		c.News.Country = "TW"
	}
	if c.News.Edition == "" {
		c.News.Edition = "TW:zh-Hant"
	}
	if c.LLM.MaxArticleChars <= 0 {
		c.LLM.MaxArticleChars = DefaultMaxArticleChars
	}
	if c.Delivery.MessageLimit <= 0 {
		c.Delivery.MessageLimit = DefaultMessageLimit
	}
	if len(c.Schedule.Specs) == 0 {
		c.Schedule.Specs = []string{"0 9 * * *", "0 16 * * *"}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
}
