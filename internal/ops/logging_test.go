package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sandwichfarm/weft/internal/config"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "warn", Format: "text"}, &buf)

	log.Debug("debug line")
	log.Info("info line")
	log.Warn("warn line")
	log.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("expected debug/info suppressed at warn level, got:\n%s", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("expected warn/error present, got:\n%s", out)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "loud", Format: "text"}, &buf)

	log.Debug("hidden")
	log.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("expected debug suppressed at default level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected info present at default level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "json"}, &buf)

	log.Info("structured", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "structured" {
		t.Errorf("expected msg 'structured', got %v", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("expected key=value, got %v", record["key"])
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "json"}, &buf)

	log.WithComponent("feed").Info("tagged")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["component"] != "feed" {
		t.Errorf("expected component 'feed', got %v", record["component"])
	}
}

func TestIsDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	if !NewLoggerWithWriter(&config.Logging{Level: "debug"}, &buf).IsDebugEnabled() {
		t.Error("expected debug enabled")
	}
	if NewLoggerWithWriter(&config.Logging{Level: "info"}, &buf).IsDebugEnabled() {
		t.Error("expected debug disabled")
	}
}

func TestLogFeedStatusLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "text"}, &buf)

	log.LogFeedStatus("global", "live", 0, 2, nil)
	if !strings.Contains(buf.String(), "level=INFO") {
		t.Errorf("expected clean transition at info, got:\n%s", buf.String())
	}

	buf.Reset()
	log.LogFeedStatus("global", "retrying", 1, 2, errors.New("no relays responded"))
	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("expected failing transition at warn, got:\n%s", out)
	}
	if !strings.Contains(out, "no relays responded") {
		t.Errorf("expected error included, got:\n%s", out)
	}
}
