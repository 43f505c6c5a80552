package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/serverlessd/internal/domain"
	"github.com/oriys/serverlessd/internal/store"
)

type fakeFunctionStore struct {
	functions map[string]*domain.Function
}

func (f *fakeFunctionStore) Create(context.Context, *domain.Function) error { return nil }
func (f *fakeFunctionStore) Get(_ context.Context, name string) (*domain.Function, error) {
	fn, ok := f.functions[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return fn, nil
}
func (f *fakeFunctionStore) List(context.Context) ([]*domain.Function, error) { return nil, nil }
func (f *fakeFunctionStore) Update(context.Context, *domain.Function) error   { return nil }
func (f *fakeFunctionStore) Delete(context.Context, string) error             { return nil }

type fakeMetricsStore struct {
	recorded []*domain.ExecutionMetric
}

func (f *fakeMetricsStore) Record(_ context.Context, m *domain.ExecutionMetric) error {
	f.recorded = append(f.recorded, m)
	return nil
}
func (f *fakeMetricsStore) List(context.Context, string, int) ([]*domain.ExecutionMetric, error) {
	return f.recorded, nil
}
func (f *fakeMetricsStore) Aggregate(_ context.Context, name string, window store.Window) (*store.Aggregate, error) {
	return &store.Aggregate{FunctionName: name, Window: window}, nil
}

func TestExecuteFunctionReturns404ForUnknownFunction(t *testing.T) {
	h := &Handler{functions: &fakeFunctionStore{functions: map[string]*domain.Function{}}}

	req := httptest.NewRequest(http.MethodPost, "/functions/execute/missing", nil)
	req.SetPathValue("name", "missing")
	rec := httptest.NewRecorder()

	h.executeFunction(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListFunctionMetricsRejectsOutOfRangeLimit(t *testing.T) {
	h := &Handler{metrics: &fakeMetricsStore{}}

	req := httptest.NewRequest(http.MethodGet, "/metrics/functions/fn?limit=5000", nil)
	req.SetPathValue("name", "fn")
	rec := httptest.NewRecorder()

	h.listFunctionMetrics(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAggregatedMetricsAllowsMissingFunctionName(t *testing.T) {
	h := &Handler{metrics: &fakeMetricsStore{}}

	req := httptest.NewRequest(http.MethodGet, "/metrics/aggregated", nil)
	rec := httptest.NewRecorder()

	h.aggregatedMetrics(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for platform-wide aggregation", rec.Code)
	}
}

func TestAggregatedMetricsRejectsUnknownWindow(t *testing.T) {
	h := &Handler{metrics: &fakeMetricsStore{}}

	req := httptest.NewRequest(http.MethodGet, "/metrics/aggregated?time_range=1y", nil)
	rec := httptest.NewRecorder()

	h.aggregatedMetrics(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type fakeInvoker struct {
	result *domain.ExecutionResult
	got    *domain.ExecutionRequest
}

func (f *fakeInvoker) Invoke(_ context.Context, fn *domain.Function, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	f.got = req
	return f.result, nil
}

func TestExecuteFunctionReturns200ForClassifiedResult(t *testing.T) {
	fn := &domain.Function{Name: "hello", Language: domain.LanguagePython}
	invoker := &fakeInvoker{result: &domain.ExecutionResult{Status: domain.StatusTimeout, ExitCode: -1}}
	h := &Handler{
		functions: &fakeFunctionStore{functions: map[string]*domain.Function{"hello": fn}},
		exec:      invoker,
	}

	req := httptest.NewRequest(http.MethodPost, "/functions/execute/hello",
		strings.NewReader(`{"runtime":"hardened"}`))
	req.SetPathValue("name", "hello")
	rec := httptest.NewRecorder()

	h.executeFunction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (timeout is a result classification, not a transport error)", rec.Code)
	}
	if invoker.got.Runtime != domain.RuntimeHardened {
		t.Fatalf("Runtime = %q, want hardened", invoker.got.Runtime)
	}
	var resp executeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result.Status != domain.StatusTimeout {
		t.Fatalf("Result.Status = %q, want timeout", resp.Result.Status)
	}
}

func TestExecuteFunctionRejectsInvalidRuntime(t *testing.T) {
	fn := &domain.Function{Name: "hello", Language: domain.LanguagePython}
	h := &Handler{functions: &fakeFunctionStore{functions: map[string]*domain.Function{"hello": fn}}}

	req := httptest.NewRequest(http.MethodPost, "/functions/execute/hello",
		strings.NewReader(`{"runtime":"firecracker"}`))
	req.SetPathValue("name", "hello")
	rec := httptest.NewRecorder()

	h.executeFunction(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCompareRuntimeRequiresFunctionName(t *testing.T) {
	h := &Handler{}

	req := httptest.NewRequest(http.MethodGet, "/runtime/compare", nil)
	rec := httptest.NewRecorder()

	h.compareRuntime(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
