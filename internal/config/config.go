package config

import (
	"embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete weft configuration.
type Config struct {
	Identity  Identity  `yaml:"identity"`
	Relays    Relays    `yaml:"relays"`
	Feeds     Feeds     `yaml:"feeds"`
	Hydration Hydration `yaml:"hydration"`
	Mutes     Mutes     `yaml:"mutes"`
	Logging   Logging   `yaml:"logging"`
}

// Identity identifies the viewer. The engine is read-only; only the public
// key is needed, for viewer-specific engagement flags and the following feed.
type Identity struct {
	Pubkey string `yaml:"pubkey"`
}

// Relays lists the relay set the engine subscribes against.
type Relays struct {
	Seeds []string `yaml:"seeds"`
}

// Feeds contains feed subscription policy. The timeout/retry values are
// product policy, not protocol requirements, and are deliberately tunable.
type Feeds struct {
	FirstBatchTimeoutMs int      `yaml:"first_batch_timeout_ms"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryDelayMs        int      `yaml:"retry_delay_ms"`
	PageSize            int      `yaml:"page_size"`
	WindowHours         int      `yaml:"window_hours"`
	DefaultSource       string   `yaml:"default_source"`
	Following           []string `yaml:"following"`
	Circles             []string `yaml:"circles"`
}

// FirstBatchTimeout returns the first-results deadline per attempt.
func (f *Feeds) FirstBatchTimeout() time.Duration {
	return time.Duration(f.FirstBatchTimeoutMs) * time.Millisecond
}

// RetryDelay returns the fixed inter-attempt delay.
func (f *Feeds) RetryDelay() time.Duration {
	return time.Duration(f.RetryDelayMs) * time.Millisecond
}

// Window returns the recency window for initial feed queries.
func (f *Feeds) Window() time.Duration {
	return time.Duration(f.WindowHours) * time.Hour
}

// Hydration contains engagement count batching policy.
type Hydration struct {
	CoalesceMs int `yaml:"coalesce_ms"`
	MaxBatch   int `yaml:"max_batch"`
	FreshnessS int `yaml:"freshness_s"`
}

// CoalesceWindow returns the batching window for non-immediate enqueues.
func (h *Hydration) CoalesceWindow() time.Duration {
	return time.Duration(h.CoalesceMs) * time.Millisecond
}

// Freshness returns how long a hydrated snapshot suppresses re-queries.
func (h *Hydration) Freshness() time.Duration {
	return time.Duration(h.FreshnessS) * time.Second
}

// Mutes contains the static mute rules loaded at startup.
type Mutes struct {
	Authors  []string `yaml:"authors"`
	Words    []string `yaml:"words"`
	Hashtags []string `yaml:"hashtags"`
	Threads  []string `yaml:"threads"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Relays: Relays{
			Seeds: []string{"wss://relay.damus.io", "wss://nos.lol"},
		},
		Feeds: Feeds{
			FirstBatchTimeoutMs: 8000,
			MaxRetries:          2,
			RetryDelayMs:        1000,
			PageSize:            50,
			WindowHours:         24,
			DefaultSource:       "global",
		},
		Hydration: Hydration{
			CoalesceMs: 250,
			MaxBatch:   500,
			FreshnessS: 60,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates a configuration file, applying defaults for
// unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Relays.Seeds) == 0 {
		return fmt.Errorf("relays.seeds must list at least one relay")
	}
	if c.Feeds.FirstBatchTimeoutMs <= 0 {
		return fmt.Errorf("feeds.first_batch_timeout_ms must be positive")
	}
	if c.Feeds.MaxRetries < 0 {
		return fmt.Errorf("feeds.max_retries must not be negative")
	}
	if c.Feeds.PageSize <= 0 {
		return fmt.Errorf("feeds.page_size must be positive")
	}
	if c.Hydration.MaxBatch <= 0 {
		return fmt.Errorf("hydration.max_batch must be positive")
	}
	if c.Hydration.CoalesceMs <= 0 {
		return fmt.Errorf("hydration.coalesce_ms must be positive")
	}
	switch c.Feeds.DefaultSource {
	case "", "global", "following", "circles", "trending", "longreads":
	default:
		return fmt.Errorf("feeds.default_source: unknown source %q", c.Feeds.DefaultSource)
	}
	return nil
}

// WriteExample writes the embedded example configuration to path.
func WriteExample(path string) error {
	data, err := exampleConfig.ReadFile("example.yaml")
	if err != nil {
		return fmt.Errorf("failed to read embedded example: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file: %s", path)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}

	return nil
}
