package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLogWritesExecutionEntryAsJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.log")

	l := &Logger{}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput() error = %v", err)
	}
	defer l.Close()

	l.Log(&ExecutionLog{
		RequestID: "req-1",
		Function:  "hello",
		Language:  "python",
		Runtime:   "default",
		Status:    "timeout",
		ColdStart: true,
		InitMs:    120,
		ExecMs:    1050,
		TotalMs:   1200,
		Error:     "timeout",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry ExecutionLog
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry.Function != "hello" || entry.Status != "timeout" || !entry.ColdStart {
		t.Fatalf("entry = %+v, want the logged fields back", entry)
	}
	if entry.TotalMs != 1200 || entry.ExecMs != 1050 {
		t.Fatalf("timing fields = %d/%d, want 1200/1050", entry.TotalMs, entry.ExecMs)
	}
	if entry.Timestamp.IsZero() {
		t.Fatal("Log() did not stamp the entry")
	}
}

func TestLogAppendsOneLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.log")

	l := &Logger{}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput() error = %v", err)
	}
	defer l.Close()

	l.Log(&ExecutionLog{RequestID: "a", Function: "fn", Status: "success"})
	l.Log(&ExecutionLog{RequestID: "b", Function: "fn", Status: "error", Error: "exit_code_1"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("log lines = %d, want 2", lines)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
