package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weft.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTemp(t, `
identity:
  pubkey: abc123
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Identity.Pubkey != "abc123" {
		t.Errorf("expected pubkey abc123, got %s", cfg.Identity.Pubkey)
	}
	if cfg.Feeds.FirstBatchTimeoutMs != 8000 {
		t.Errorf("expected default timeout 8000, got %d", cfg.Feeds.FirstBatchTimeoutMs)
	}
	if cfg.Feeds.MaxRetries != 2 {
		t.Errorf("expected default retries 2, got %d", cfg.Feeds.MaxRetries)
	}
	if cfg.Hydration.CoalesceMs != 250 {
		t.Errorf("expected default coalesce 250, got %d", cfg.Hydration.CoalesceMs)
	}
	if len(cfg.Relays.Seeds) == 0 {
		t.Error("expected default relay seeds")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTemp(t, `
relays:
  seeds:
    - wss://relay.example.com
feeds:
  first_batch_timeout_ms: 2000
  max_retries: 5
  default_source: following
  following:
    - pubkey-a
hydration:
  coalesce_ms: 100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Feeds.FirstBatchTimeout(); got != 2*time.Second {
		t.Errorf("expected 2s timeout, got %v", got)
	}
	if cfg.Feeds.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Feeds.MaxRetries)
	}
	if cfg.Feeds.DefaultSource != "following" {
		t.Errorf("expected source following, got %s", cfg.Feeds.DefaultSource)
	}
	if len(cfg.Relays.Seeds) != 1 || cfg.Relays.Seeds[0] != "wss://relay.example.com" {
		t.Errorf("expected overridden seeds, got %v", cfg.Relays.Seeds)
	}
	if got := cfg.Hydration.CoalesceWindow(); got != 100*time.Millisecond {
		t.Errorf("expected 100ms coalesce window, got %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeTemp(t, "feeds: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"no relays", func(c *Config) { c.Relays.Seeds = nil }, "relays.seeds"},
		{"zero timeout", func(c *Config) { c.Feeds.FirstBatchTimeoutMs = 0 }, "first_batch_timeout_ms"},
		{"negative retries", func(c *Config) { c.Feeds.MaxRetries = -1 }, "max_retries"},
		{"zero page size", func(c *Config) { c.Feeds.PageSize = 0 }, "page_size"},
		{"zero max batch", func(c *Config) { c.Hydration.MaxBatch = 0 }, "max_batch"},
		{"unknown source", func(c *Config) { c.Feeds.DefaultSource = "firehose" }, "unknown source"},
		{"empty source allowed", func(c *Config) { c.Feeds.DefaultSource = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample() error = %v", err)
	}

	// The shipped example must itself load cleanly.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config does not validate: %v", err)
	}

	// A second write must refuse to clobber.
	if err := WriteExample(path); err == nil {
		t.Error("expected refusal to overwrite existing file")
	}
}
