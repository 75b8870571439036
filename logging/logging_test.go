package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		level string
		debug bool
		want  slog.Level
	}{
		{"debug", false, slog.LevelDebug},
		{"info", false, slog.LevelInfo},
		{"warn", false, slog.LevelWarn},
		{"warning", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"ERROR", false, slog.LevelError},
		{" info ", false, slog.LevelInfo},
		{"", false, slog.LevelInfo},
		{"nonsense", false, slog.LevelInfo},
		{"error", true, slog.LevelDebug}, // legacy flag wins
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.level, tc.debug); got != tc.want {
			t.Errorf("ParseLevel(%q, %v) = %v, want %v", tc.level, tc.debug, got, tc.want)
		}
	}
}

func TestLevelThresholdFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", false)

	logger.Info("should be discarded")
	logger.Warn("should be kept")

	out := buf.String()
	if strings.Contains(out, "discarded") {
		t.Fatalf("record below threshold was emitted: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("record at threshold was dropped: %s", out)
	}
}

// TestTraceIDOnEveryRecord checks that a trace-derived logger stamps
// trace_id on each record it emits, at every level.
func TestTraceIDOnEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := WithTrace(New(&buf, "debug", false), "trace-123").With("connection_id", "conn-1")

	logger.Debug("opening")
	logger.Info("streaming", "bytes", 4800)
	logger.Warn("slow client")
	logger.Error("upstream gone")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 records, got %d: %q", len(lines), buf.String())
	}
	for _, line := range lines {
		var record map[string]any
		if err := sonic.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("record is not JSON: %q: %v", line, err)
		}
		if record[TraceKey] != "trace-123" {
			t.Errorf("record missing trace id: %q", line)
		}
		if record["connection_id"] != "conn-1" {
			t.Errorf("record missing connection id: %q", line)
		}
	}
}

func TestDebugFlagForcesDebugThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "error", true)

	logger.Debug("visible under legacy flag")
	if !strings.Contains(buf.String(), "visible under legacy flag") {
		t.Fatal("debug record suppressed despite legacy debug flag")
	}
}
