package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		count int
		want  slog.Level
	}{
		{-1, slog.LevelError},
		{0, slog.LevelError},
		{1, slog.LevelWarn},
		{2, slog.LevelInfo},
		{3, slog.LevelDebug},
		{10, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := LevelForVerbosity(tt.count); got != tt.want {
			t.Errorf("LevelForVerbosity(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug {
		t.Error("debug not parsed")
	}
	if ParseLevel("WARNING") != slog.LevelWarn {
		t.Error("warning not parsed")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should fall back to info")
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: slog.LevelWarn, Writer: &buf})

	Info("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: slog.LevelDebug, Format: "json", Writer: &buf})

	WithComponent("test-comp").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithWorkerAndTest(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: slog.LevelDebug, Format: "json", Writer: &buf})

	WithWorker(3).With("test_id", "bazz").Error("boom")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["worker"] != "3" {
		t.Errorf("Expected worker '3', got %v", out["worker"])
	}
	if out["test_id"] != "bazz" {
		t.Errorf("Expected test_id 'bazz', got %v", out["test_id"])
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: slog.LevelDebug, Format: "json", Writer: &buf})

	WithRun("run-123").Info("run msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["run_id"] != "run-123" {
		t.Errorf("Expected run_id 'run-123', got %v", out["run_id"])
	}
}
