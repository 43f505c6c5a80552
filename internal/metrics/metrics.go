// Package metrics collects and exposes ambient, in-process observability
// data for the running daemon. This is distinct from the durable Metrics
// Store (internal/store), which persists one row per execution and serves
// windowed aggregation over Postgres; this package exists for the
// cheap, always-on counters a dashboard or Prometheus scraper polls without
// touching the database.
//
// # Concurrency
//
// RecordExecution is called from the sandbox executor on every execution and
// must be fast: counters are atomic increments, and the only lock taken is a
// short one around the per-function counter map lookup.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/serverlessd/internal/domain"
)

// Metrics holds process-wide atomic counters.
type Metrics struct {
	TotalExecutions   atomic.Int64
	SuccessExecutions atomic.Int64
	ErrorExecutions   atomic.Int64
	TimeoutExecutions atomic.Int64
	ColdStarts        atomic.Int64
	WarmStarts        atomic.Int64
	TotalLatencyMs    atomic.Int64

	funcMu  sync.Mutex
	perFunc map[string]*FunctionCounters

	startTime time.Time
}

// FunctionCounters tracks counters for a single function name.
type FunctionCounters struct {
	Executions atomic.Int64
	Successes  atomic.Int64
	Errors     atomic.Int64
	Timeouts   atomic.Int64
}

var global = &Metrics{
	perFunc:   make(map[string]*FunctionCounters),
	startTime: time.Now(),
}

// Global returns the process-wide Metrics instance.
func Global() *Metrics {
	return global
}

// StartTime reports when the metrics subsystem was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordExecution records one completed execution's outcome for both the
// global counters and the Prometheus bridge.
func (m *Metrics) RecordExecution(functionName string, runtime domain.IsolationRuntime, status domain.ExecutionStatus, durationMs int64, coldStart bool) {
	m.TotalExecutions.Add(1)
	m.TotalLatencyMs.Add(durationMs)

	switch status {
	case domain.StatusSuccess:
		m.SuccessExecutions.Add(1)
	case domain.StatusTimeout:
		m.TimeoutExecutions.Add(1)
	default:
		m.ErrorExecutions.Add(1)
	}

	if coldStart {
		m.ColdStarts.Add(1)
	} else {
		m.WarmStarts.Add(1)
	}

	fc := m.functionCounters(functionName)
	fc.Executions.Add(1)
	switch status {
	case domain.StatusSuccess:
		fc.Successes.Add(1)
	case domain.StatusTimeout:
		fc.Timeouts.Add(1)
	default:
		fc.Errors.Add(1)
	}

	recordPrometheusExecution(functionName, string(runtime), string(status), durationMs, coldStart)
}

func (m *Metrics) functionCounters(functionName string) *FunctionCounters {
	m.funcMu.Lock()
	defer m.funcMu.Unlock()

	fc, ok := m.perFunc[functionName]
	if !ok {
		fc = &FunctionCounters{}
		m.perFunc[functionName] = fc
	}
	return fc
}

// Snapshot is a point-in-time, JSON-friendly view of the global counters.
type Snapshot struct {
	TotalExecutions   int64   `json:"total_executions"`
	SuccessExecutions int64   `json:"success_executions"`
	ErrorExecutions   int64   `json:"error_executions"`
	TimeoutExecutions int64   `json:"timeout_executions"`
	ColdStarts        int64   `json:"cold_starts"`
	WarmStarts        int64   `json:"warm_starts"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	total := m.TotalExecutions.Load()
	avg := 0.0
	if total > 0 {
		avg = float64(m.TotalLatencyMs.Load()) / float64(total)
	}
	return Snapshot{
		TotalExecutions:   total,
		SuccessExecutions: m.SuccessExecutions.Load(),
		ErrorExecutions:   m.ErrorExecutions.Load(),
		TimeoutExecutions: m.TimeoutExecutions.Load(),
		ColdStarts:        m.ColdStarts.Load(),
		WarmStarts:        m.WarmStarts.Load(),
		AvgLatencyMs:      avg,
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
}
