package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/serverlessd/internal/domain"
)

// Window is one of the four supported aggregation ranges.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// Duration returns the lookback span for the window, or an error if w is not
// one of the four supported values.
func (w Window) Duration() (time.Duration, error) {
	switch w {
	case Window1h:
		return time.Hour, nil
	case Window24h:
		return 24 * time.Hour, nil
	case Window7d:
		return 7 * 24 * time.Hour, nil
	case Window30d:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid time range: %q", w)
	}
}

// Aggregate is the windowed summary returned by the metrics aggregation
// endpoint. Percentile and stdev fields are only populated once Count >= 2;
// rates sum to 1 whenever Count > 0 and are all zero for an empty window.
type Aggregate struct {
	FunctionName         string         `json:"function_name,omitempty"`
	Window               Window         `json:"time_range"`
	Count                int            `json:"count"`
	AvgExecutionTimeMs   float64        `json:"avg_execution_time_ms"`
	AvgTotalTimeMs       float64        `json:"avg_total_time_ms"`
	P95ExecutionTimeMs   *float64       `json:"p95_execution_time_ms,omitempty"`
	P99ExecutionTimeMs   *float64       `json:"p99_execution_time_ms,omitempty"`
	StdevExecutionTimeMs *float64       `json:"stdev_execution_time_ms,omitempty"`
	SuccessRate          float64        `json:"success_rate"`
	ErrorRate            float64        `json:"error_rate"`
	TimeoutRate          float64        `json:"timeout_rate"`
	ColdStartPercentage  float64        `json:"cold_start_percentage"`
	RuntimeBreakdown     map[string]int `json:"runtime_breakdown"`
}

// PostgresMetricsStore is the durable, append-only execution metrics store.
type PostgresMetricsStore struct {
	pool *pgxpool.Pool
}

// Record inserts one execution metric. Every execution persists its own row
// in its own statement; there is no batching.
func (s *PostgresMetricsStore) Record(ctx context.Context, m *domain.ExecutionMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO execution_metrics
			(function_name, runtime, language, cold_start, occurred_at, initialization_ms, execution_ms, total_ms, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, m.FunctionName, m.Runtime, m.Language, m.ColdStart, m.Timestamp, m.InitializationMs, m.ExecutionMs, m.TotalMs, m.Status, nullableString(m.Error))
	if err := row.Scan(&m.ID); err != nil {
		return fmt.Errorf("record execution metric: %w", err)
	}
	return nil
}

// List returns up to limit of the function's most recent execution metrics,
// newest first.
func (s *PostgresMetricsStore) List(ctx context.Context, functionName string, limit int) ([]*domain.ExecutionMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, function_name, runtime, language, cold_start, occurred_at, initialization_ms, execution_ms, total_ms, status, COALESCE(error, '')
		FROM execution_metrics
		WHERE function_name = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, functionName, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution metrics: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExecutionMetric
	for rows.Next() {
		m := &domain.ExecutionMetric{}
		if err := rows.Scan(&m.ID, &m.FunctionName, &m.Runtime, &m.Language, &m.ColdStart, &m.Timestamp,
			&m.InitializationMs, &m.ExecutionMs, &m.TotalMs, &m.Status, &m.Error); err != nil {
			return nil, fmt.Errorf("scan execution metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Aggregate computes the windowed summary, filtered to one function when
// functionName is non-empty, across every function otherwise. The rows are
// pulled once and aggregated in Go rather than in SQL so the percentile
// convention (sorted index floor(n*q), clamped to n-1) exactly matches the
// one callers expect regardless of the database's own percentile function.
func (s *PostgresMetricsStore) Aggregate(ctx context.Context, functionName string, window Window) (*Aggregate, error) {
	lookback, err := window.Duration()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT runtime, cold_start, initialization_ms, execution_ms, total_ms, status
		FROM execution_metrics
		WHERE occurred_at >= $1`
	args := []any{time.Now().Add(-lookback)}
	if functionName != "" {
		query += ` AND function_name = $2`
		args = append(args, functionName)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate execution metrics: %w", err)
	}
	defer rows.Close()

	var (
		execSum, totalSum       float64
		coldStarts              int
		successes, errs, tmouts int
		execTimes               []float64
		runtimeBreakdown        = map[string]int{}
	)

	for rows.Next() {
		var runtime, status string
		var coldStart bool
		var initMs, execMs, totalMs int64
		if err := rows.Scan(&runtime, &coldStart, &initMs, &execMs, &totalMs, &status); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		execSum += float64(execMs)
		totalSum += float64(totalMs)
		execTimes = append(execTimes, float64(execMs))
		runtimeBreakdown[runtime]++
		if coldStart {
			coldStarts++
		}
		switch domain.ExecutionStatus(status) {
		case domain.StatusSuccess:
			successes++
		case domain.StatusTimeout:
			tmouts++
		default:
			errs++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	agg := &Aggregate{
		FunctionName:     functionName,
		Window:           window,
		RuntimeBreakdown: runtimeBreakdown,
	}

	count := len(execTimes)
	agg.Count = count
	if count == 0 {
		return agg, nil
	}

	agg.AvgExecutionTimeMs = execSum / float64(count)
	agg.AvgTotalTimeMs = totalSum / float64(count)
	agg.SuccessRate = float64(successes) / float64(count)
	agg.ErrorRate = float64(errs) / float64(count)
	agg.TimeoutRate = float64(tmouts) / float64(count)
	agg.ColdStartPercentage = float64(coldStarts) / float64(count)

	if count >= 2 {
		sorted := append([]float64(nil), execTimes...)
		sort.Float64s(sorted)
		p95 := percentile(sorted, 0.95)
		p99 := percentile(sorted, 0.99)
		sd := stdev(sorted, agg.AvgExecutionTimeMs)
		agg.P95ExecutionTimeMs = &p95
		agg.P99ExecutionTimeMs = &p99
		agg.StdevExecutionTimeMs = &sd
	}

	return agg, nil
}

// percentile indexes into a sorted slice at floor(n*q), clamped to the last
// element so q=1 never runs off the end.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	idx := int(math.Floor(float64(n) * q))
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// stdev is the sample standard deviation (n-1 divisor); zero for fewer than
// two values.
func stdev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
