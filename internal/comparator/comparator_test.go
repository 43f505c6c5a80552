package comparator

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/serverlessd/internal/domain"
)

type fakeInvoker struct {
	byRuntime map[domain.IsolationRuntime][]*domain.ExecutionResult
	calls     map[domain.IsolationRuntime]int
}

func (f *fakeInvoker) Invoke(_ context.Context, fn *domain.Function, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	results := f.byRuntime[req.Runtime]
	i := f.calls[req.Runtime]
	f.calls[req.Runtime]++
	if i >= len(results) {
		return nil, errors.New("no more canned results")
	}
	return results[i], nil
}

type fakeFunctions struct{ fn *domain.Function }

func (f *fakeFunctions) Get(_ context.Context, name string) (*domain.Function, error) {
	if f.fn == nil || f.fn.Name != name {
		return nil, errors.New("not found")
	}
	return f.fn, nil
}

func result(totalMs int64, status domain.ExecutionStatus) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Status: status,
		Metrics: &domain.ExecutionMetric{
			InitializationMs: 10,
			ExecutionMs:      totalMs - 10,
			TotalMs:          totalMs,
			Status:           status,
		},
	}
}

func TestCompareRejectsOutOfRangeIterations(t *testing.T) {
	c := New(&fakeInvoker{}, &fakeFunctions{})
	if _, err := c.Compare(context.Background(), "fn", 0); !errors.Is(err, ErrInvalidIterations) {
		t.Fatalf("expected ErrInvalidIterations, got %v", err)
	}
	if _, err := c.Compare(context.Background(), "fn", 21); !errors.Is(err, ErrInvalidIterations) {
		t.Fatalf("expected ErrInvalidIterations, got %v", err)
	}
}

func TestCompareComputesDifferenceAndRecommendation(t *testing.T) {
	fn := &domain.Function{Name: "fn"}
	invoker := &fakeInvoker{
		byRuntime: map[domain.IsolationRuntime][]*domain.ExecutionResult{
			domain.RuntimeDefault:  {result(100, domain.StatusSuccess), result(100, domain.StatusSuccess)},
			domain.RuntimeHardened: {result(150, domain.StatusSuccess), result(150, domain.StatusSuccess)},
		},
		calls: map[domain.IsolationRuntime]int{},
	}
	c := New(invoker, &fakeFunctions{fn: fn})

	cmp, err := c.Compare(context.Background(), "fn", 2)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if cmp.Recommendation != string(domain.RuntimeDefault) {
		t.Fatalf("Recommendation = %q, want %q", cmp.Recommendation, domain.RuntimeDefault)
	}
	if cmp.Difference == nil {
		t.Fatal("Difference = nil, want per-axis percentages")
	}
	if cmp.Difference.TotalTimePercent == nil || *cmp.Difference.TotalTimePercent != 50 {
		t.Fatalf("TotalTimePercent = %v, want 50", cmp.Difference.TotalTimePercent)
	}
	if cmp.Difference.InitTimePercent == nil || *cmp.Difference.InitTimePercent != 0 {
		t.Fatalf("InitTimePercent = %v, want 0", cmp.Difference.InitTimePercent)
	}
}

func TestCompareDegradesGracefullyWhenRuntimeFullyFails(t *testing.T) {
	fn := &domain.Function{Name: "fn"}
	invoker := &fakeInvoker{
		byRuntime: map[domain.IsolationRuntime][]*domain.ExecutionResult{
			domain.RuntimeHardened: {result(150, domain.StatusSuccess)},
		},
		calls: map[domain.IsolationRuntime]int{},
	}
	c := New(invoker, &fakeFunctions{fn: fn})

	cmp, err := c.Compare(context.Background(), "fn", 1)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if cmp.Default != nil {
		t.Fatalf("expected nil Default stats when every default iteration fails, got %+v", cmp.Default)
	}
	if cmp.Difference != nil {
		t.Fatalf("expected nil Difference when one side has no stats")
	}
	if cmp.Recommendation != string(domain.RuntimeHardened) {
		t.Fatalf("Recommendation = %q, want %q", cmp.Recommendation, domain.RuntimeHardened)
	}
}
