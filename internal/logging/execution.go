package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ExecutionLog is one record per sandbox execution: its classification, the
// three timing phases, and the trace ids that correlate it with the
// invocation span.
type ExecutionLog struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	SpanID    string    `json:"span_id,omitempty"`
	Function  string    `json:"function"`
	Language  string    `json:"language,omitempty"`
	Runtime   string    `json:"runtime,omitempty"`
	Status    string    `json:"status"`
	ColdStart bool      `json:"cold_start"`
	InitMs    int64     `json:"initialization_time_ms"`
	ExecMs    int64     `json:"execution_time_ms"`
	TotalMs   int64     `json:"total_time_ms"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes ExecutionLog entries: a human-readable console line, plus a
// JSON line per entry when a log file is configured via SetOutput.
type Logger struct {
	mu      sync.Mutex
	console bool
	file    *os.File
}

var defaultLogger = &Logger{console: true}

// Default returns the process-wide execution logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput appends JSON entries to the file at path, in addition to the
// console line.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Log writes one execution record.
func (l *Logger) Log(entry *ExecutionLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now()

	if l.console {
		marker := "✓"
		if entry.Status != "success" {
			marker = "✗"
		}
		cold := ""
		if entry.ColdStart {
			cold = " [cold]"
		}
		fmt.Printf("[exec] %s %s %s/%s %s %dms%s\n",
			marker, entry.RequestID, entry.Function, entry.Runtime, entry.Status, entry.TotalMs, cold)
		if entry.Error != "" {
			fmt.Printf("[exec]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file, if one was opened.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
