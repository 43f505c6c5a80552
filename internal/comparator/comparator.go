// Package comparator implements the Runtime Comparator: it runs a function
// under both isolation runtimes and reports how much slower (or faster) the
// hardened runtime is.
package comparator

import (
	"context"
	"fmt"

	"github.com/oriys/serverlessd/internal/domain"
)

// Invoker is the subset of the sandbox executor the comparator depends on.
type Invoker interface {
	Invoke(ctx context.Context, fn *domain.Function, req *domain.ExecutionRequest) (*domain.ExecutionResult, error)
}

// FunctionGetter is the subset of the function store the comparator depends
// on.
type FunctionGetter interface {
	Get(ctx context.Context, name string) (*domain.Function, error)
}

// RuntimeStats summarizes a batch of iterations run under one runtime.
type RuntimeStats struct {
	AvgInitTimeMs  float64 `json:"avg_init_time_ms"`
	AvgExecTimeMs  float64 `json:"avg_exec_time_ms"`
	AvgTotalTimeMs float64 `json:"avg_total_time_ms"`
	MinTotalTimeMs int64   `json:"min_total_time_ms"`
	MaxTotalTimeMs int64   `json:"max_total_time_ms"`
	SuccessRate    float64 `json:"success_rate"`
}

// Difference holds the percentage difference of the hardened runtime
// relative to the default one, per time axis:
// (hardened_mean - default_mean) / default_mean * 100. A field is nil when
// the default mean on that axis is zero, so the ratio is undefined.
type Difference struct {
	InitTimePercent  *float64 `json:"init_time_percent"`
	ExecTimePercent  *float64 `json:"exec_time_percent"`
	TotalTimePercent *float64 `json:"total_time_percent"`
}

// Comparison is the full result of comparing the default and hardened
// runtimes for a function.
type Comparison struct {
	FunctionName   string        `json:"function_name"`
	Iterations     int           `json:"iterations"`
	Default        *RuntimeStats `json:"default"`
	Hardened       *RuntimeStats `json:"hardened"`
	Difference     *Difference   `json:"difference_percent,omitempty"`
	Recommendation string        `json:"recommendation,omitempty"`
}

// Comparator runs the side-by-side comparison.
type Comparator struct {
	invoker   Invoker
	functions FunctionGetter
}

// New builds a Comparator over the given executor and function store.
func New(invoker Invoker, functions FunctionGetter) *Comparator {
	return &Comparator{invoker: invoker, functions: functions}
}

// ErrInvalidIterations is returned when iterations falls outside [1, 20].
var ErrInvalidIterations = fmt.Errorf("iterations must be between 1 and 20")

// Compare runs iterations executions against each runtime and returns the
// comparison. Every iteration's result is persisted via the executor's usual
// metrics path; Compare itself only aggregates what Invoke returns.
//
// The default runtime's first iteration is a forced cold start (warm_start
// false) and the rest request warm starts, mirroring how a real traffic
// pattern would hit the pool after the first request fills it. The hardened
// runtime never pools, so every iteration cold-starts regardless of the
// warm_start flag.
func (c *Comparator) Compare(ctx context.Context, functionName string, iterations int) (*Comparison, error) {
	if iterations < 1 || iterations > 20 {
		return nil, ErrInvalidIterations
	}

	fn, err := c.functions.Get(ctx, functionName)
	if err != nil {
		return nil, err
	}

	defaultResults := c.run(ctx, fn, domain.RuntimeDefault, iterations)
	hardenedResults := c.run(ctx, fn, domain.RuntimeHardened, iterations)

	cmp := &Comparison{
		FunctionName: functionName,
		Iterations:   iterations,
		Default:      statsOf(defaultResults),
		Hardened:     statsOf(hardenedResults),
	}

	if cmp.Default != nil && cmp.Hardened != nil {
		cmp.Difference = &Difference{
			InitTimePercent:  percentDiff(cmp.Default.AvgInitTimeMs, cmp.Hardened.AvgInitTimeMs),
			ExecTimePercent:  percentDiff(cmp.Default.AvgExecTimeMs, cmp.Hardened.AvgExecTimeMs),
			TotalTimePercent: percentDiff(cmp.Default.AvgTotalTimeMs, cmp.Hardened.AvgTotalTimeMs),
		}
	}

	switch {
	case cmp.Default != nil && cmp.Hardened != nil:
		if cmp.Default.AvgTotalTimeMs <= cmp.Hardened.AvgTotalTimeMs {
			cmp.Recommendation = string(domain.RuntimeDefault)
		} else {
			cmp.Recommendation = string(domain.RuntimeHardened)
		}
	case cmp.Default != nil:
		cmp.Recommendation = string(domain.RuntimeDefault)
	case cmp.Hardened != nil:
		cmp.Recommendation = string(domain.RuntimeHardened)
	}

	return cmp, nil
}

// percentDiff returns (hardened - def) / def * 100, or nil when def is zero.
func percentDiff(def, hardened float64) *float64 {
	if def == 0 {
		return nil
	}
	d := (hardened - def) / def * 100
	return &d
}

func (c *Comparator) run(ctx context.Context, fn *domain.Function, runtime domain.IsolationRuntime, iterations int) []*domain.ExecutionResult {
	results := make([]*domain.ExecutionResult, 0, iterations)
	for i := 0; i < iterations; i++ {
		req := &domain.ExecutionRequest{
			FunctionName: fn.Name,
			Runtime:      runtime,
			WarmStart:    runtime == domain.RuntimeDefault && i > 0,
		}
		res, err := c.invoker.Invoke(ctx, fn, req)
		if err != nil {
			continue
		}
		results = append(results, res)
	}
	return results
}

// statsOf reduces a batch of results into RuntimeStats, or nil if every
// iteration failed to produce a result at all (not merely a failed
// execution, which still carries metrics).
func statsOf(results []*domain.ExecutionResult) *RuntimeStats {
	if len(results) == 0 {
		return nil
	}

	var (
		initSum, execSum, totalSum float64
		min, max                   int64
		successes                  int
	)
	min = results[0].Metrics.TotalMs
	for _, r := range results {
		m := r.Metrics
		initSum += float64(m.InitializationMs)
		execSum += float64(m.ExecutionMs)
		totalSum += float64(m.TotalMs)
		if m.TotalMs < min {
			min = m.TotalMs
		}
		if m.TotalMs > max {
			max = m.TotalMs
		}
		if r.Status == domain.StatusSuccess {
			successes++
		}
	}

	n := float64(len(results))
	return &RuntimeStats{
		AvgInitTimeMs:  initSum / n,
		AvgExecTimeMs:  execSum / n,
		AvgTotalTimeMs: totalSum / n,
		MinTotalTimeMs: min,
		MaxTotalTimeMs: max,
		SuccessRate:    float64(successes) / n,
	}
}
