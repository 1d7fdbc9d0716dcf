package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Load reads, decodes, normalizes, and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a YAML document. Unknown keys are rejected so typos
// surface at startup instead of silently reverting to defaults.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.News.Limit <= 0 {
		return errors.New("news.limit must be > 0")
	}
	if c.News.Workers <= 0 {
		return errors.New("news.workers must be > 0")
	}
	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	if _, err := c.LLMTimeout(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Delivery.Channel)) {
	case "", "none":
		// delivery disabled; once-mode still works
	case "line":
		if strings.TrimSpace(c.Delivery.Line.ChannelToken) == "" {
			return errors.New("delivery.line.channel_token is required")
		}
	case "telegram":
		if strings.TrimSpace(c.Delivery.Telegram.Token) == "" {
			return errors.New("delivery.telegram.token is required")
		}
	default:
		return fmt.Errorf("unknown delivery.channel %q", c.Delivery.Channel)
	}
	if c.Schedule.Enabled && c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	return nil
}

// Duration accessors with defaults.

func (c *Config) CacheTTL() (time.Duration, error) {
	return ParseDurationOrDefault("cache.ttl", c.Cache.TTL, DefaultTTL)
}

func (c *Config) FetchTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("news.fetch_timeout", c.News.FetchTimeout, DefaultFetchTimeout)
}

func (c *Config) LLMTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("llm.timeout", c.LLM.Timeout, DefaultLLMTimeout)
}

func (c *Config) MinPushInterval() (time.Duration, error) {
	return ParseDurationOrDefault("delivery.min_push_interval", c.Delivery.MinPushInterval, DefaultPushInterval)
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
