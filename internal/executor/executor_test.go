package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/serverlessd/internal/domain"
	"github.com/oriys/serverlessd/internal/engine"
	"github.com/oriys/serverlessd/internal/pool"
)

type fakeEngine struct {
	mu        sync.Mutex
	created   []string
	stopped   []string
	createErr error
	copyErr   error
	execFn    func(ctx context.Context, argv []string) (*engine.ExecResult, error)
}

func (f *fakeEngine) Create(_ context.Context, image string, _ []string, runtimeTag, _, name string) (*engine.Handle, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	f.created = append(f.created, name)
	f.mu.Unlock()
	return &engine.Handle{ContainerID: name, Name: name}, nil
}

func (f *fakeEngine) CopyIn(_ context.Context, _ *engine.Handle, _ []byte, _ string) error {
	return f.copyErr
}

func (f *fakeEngine) Exec(ctx context.Context, _ *engine.Handle, argv []string, _ string) (*engine.ExecResult, error) {
	if f.execFn != nil {
		return f.execFn(ctx, argv)
	}
	return &engine.ExecResult{ExitCode: 0, Stdout: []byte("Hello, World!\n")}, nil
}

func (f *fakeEngine) Stop(h *engine.Handle, _ time.Duration) {
	f.mu.Lock()
	f.stopped = append(f.stopped, h.Name)
	f.mu.Unlock()
}

type fakePool struct {
	next     *pool.Container
	released []*pool.Container
	ensured  int
}

func (f *fakePool) Checkout(domain.Language, domain.IsolationRuntime) *pool.Container {
	c := f.next
	f.next = nil
	return c
}

func (f *fakePool) EnsureBucket(domain.Language, domain.IsolationRuntime) { f.ensured++ }

func (f *fakePool) Release(c *pool.Container) { f.released = append(f.released, c) }

type recorderStub struct {
	recorded []*domain.ExecutionMetric
}

func (r *recorderStub) Record(_ context.Context, m *domain.ExecutionMetric) error {
	r.recorded = append(r.recorded, m)
	return nil
}

func pyFunction(code string, timeoutS int) *domain.Function {
	return &domain.Function{
		Name:     "hello",
		Language: domain.LanguagePython,
		Code:     code,
		TimeoutS: timeoutS,
	}
}

func TestInvokeColdSuccess(t *testing.T) {
	eng := &fakeEngine{}
	rec := &recorderStub{}
	e := New(eng, &fakePool{}, rec)

	res, err := e.Invoke(context.Background(), pyFunction(`print("Hello, World!")`, 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q, want success", res.Status)
	}
	if res.Stdout != "Hello, World!\n" {
		t.Fatalf("Stdout = %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !res.Metrics.ColdStart {
		t.Fatal("ColdStart = false, want true for a non-warm request")
	}
	if res.Metrics.TotalMs < res.Metrics.InitializationMs || res.Metrics.TotalMs < res.Metrics.ExecutionMs {
		t.Fatalf("total %dms must cover init %dms and exec %dms",
			res.Metrics.TotalMs, res.Metrics.InitializationMs, res.Metrics.ExecutionMs)
	}
	if len(eng.created) != 1 || len(eng.stopped) != 1 {
		t.Fatalf("created = %v stopped = %v, want exactly one container created and stopped", eng.created, eng.stopped)
	}
	if len(rec.recorded) != 1 || rec.recorded[0].Status != domain.StatusSuccess {
		t.Fatalf("recorded = %+v, want one success metric", rec.recorded)
	}
}

func TestInvokeWarmCheckoutReleasesThroughPool(t *testing.T) {
	eng := &fakeEngine{}
	warm := &pool.Container{Handle: &engine.Handle{ContainerID: "warm", Name: "warm"}}
	p := &fakePool{next: warm}
	e := New(eng, p, &recorderStub{})

	res, err := e.Invoke(context.Background(), pyFunction("print(1)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault, WarmStart: true})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Metrics.ColdStart {
		t.Fatal("ColdStart = true, want false for a pool checkout")
	}
	if len(eng.created) != 0 {
		t.Fatalf("created = %v, want no cold creates on a warm hit", eng.created)
	}
	if len(p.released) != 1 || p.released[0] != warm {
		t.Fatalf("released = %v, want the checked-out container released through the pool", p.released)
	}
}

func TestInvokeWarmMissFallsBackToColdCreate(t *testing.T) {
	eng := &fakeEngine{}
	p := &fakePool{}
	e := New(eng, p, &recorderStub{})

	res, err := e.Invoke(context.Background(), pyFunction("print(1)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault, WarmStart: true})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if !res.Metrics.ColdStart {
		t.Fatal("ColdStart = false, want true when the pool has nothing to hand out")
	}
	if p.ensured != 1 {
		t.Fatalf("EnsureBucket calls = %d, want 1 (lazy pre-warm after a miss)", p.ensured)
	}
	if len(eng.created) != 1 {
		t.Fatalf("created = %v, want one cold create", eng.created)
	}
}

func TestInvokeHardenedNeverConsultsPool(t *testing.T) {
	eng := &fakeEngine{}
	p := &fakePool{next: &pool.Container{Handle: &engine.Handle{Name: "warm"}}}
	e := New(eng, p, &recorderStub{})

	res, err := e.Invoke(context.Background(), pyFunction("print(1)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeHardened, WarmStart: true})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if !res.Metrics.ColdStart {
		t.Fatal("ColdStart = false, want true: hardened always cold-starts")
	}
	if p.next == nil {
		t.Fatal("pool was consulted for a hardened request")
	}
}

func TestInvokeTimeoutClassification(t *testing.T) {
	eng := &fakeEngine{
		execFn: func(context.Context, []string) (*engine.ExecResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	e := New(eng, &fakePool{}, &recorderStub{})

	res, err := e.Invoke(context.Background(), pyFunction("import time; time.sleep(5)", 1),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusTimeout {
		t.Fatalf("Status = %q, want timeout", res.Status)
	}
	if res.ExitCode != -1 {
		t.Fatalf("ExitCode = %d, want -1", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "timeout") {
		t.Fatalf("Stderr = %q, want a timeout mention", res.Stderr)
	}
	if res.Metrics.Error != "timeout" {
		t.Fatalf("metric error tag = %q, want %q", res.Metrics.Error, "timeout")
	}
	if len(eng.stopped) != 1 {
		t.Fatal("timed-out container was not stopped")
	}
}

func TestInvokeNonZeroExit(t *testing.T) {
	eng := &fakeEngine{
		execFn: func(context.Context, []string) (*engine.ExecResult, error) {
			return &engine.ExecResult{ExitCode: 2}, nil
		},
	}
	e := New(eng, &fakePool{}, &recorderStub{})

	res, err := e.Invoke(context.Background(), pyFunction("raise SystemExit(2)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if res.ExitCode != 2 {
		t.Fatalf("ExitCode = %d, want 2", res.ExitCode)
	}
	if res.Metrics.Error != "exit_code_2" {
		t.Fatalf("metric error tag = %q, want %q", res.Metrics.Error, "exit_code_2")
	}
}

func TestInvokeUnsupportedLanguageCreatesNoContainer(t *testing.T) {
	eng := &fakeEngine{}
	rec := &recorderStub{}
	e := New(eng, &fakePool{}, rec)

	fn := &domain.Function{Name: "hello", Language: "ruby", Code: "puts 1", TimeoutS: 30}
	res, err := e.Invoke(context.Background(), fn,
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Stderr, "ruby") {
		t.Fatalf("Stderr = %q, want the unsupported language named", res.Stderr)
	}
	if len(eng.created) != 0 {
		t.Fatalf("created = %v, want no containers for an unsupported language", eng.created)
	}
	if len(rec.recorded) != 1 {
		t.Fatal("expected a metric even for an unsupported-language result")
	}
}

func TestInvokeEngineCreateFailureBecomesErrorResult(t *testing.T) {
	eng := &fakeEngine{createErr: engine.ErrEngineUnavailable}
	rec := &recorderStub{}
	e := New(eng, &fakePool{}, rec)

	res, err := e.Invoke(context.Background(), pyFunction("print(1)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if res.ExitCode != -1 {
		t.Fatalf("ExitCode = %d, want -1 for a setup failure", res.ExitCode)
	}
	if len(rec.recorded) != 1 || rec.recorded[0].Error == "" {
		t.Fatalf("recorded = %+v, want one metric carrying the engine error", rec.recorded)
	}
}

func TestInvokeStageFailureStopsContainer(t *testing.T) {
	eng := &fakeEngine{copyErr: engine.ErrEngineIO}
	e := New(eng, &fakePool{}, &recorderStub{})

	res, err := e.Invoke(context.Background(), pyFunction("print(1)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if len(eng.stopped) != 1 {
		t.Fatal("container not stopped after a staging failure")
	}
}

type fakeArchiver struct {
	puts map[string][]byte
}

func (f *fakeArchiver) PutOutput(_ context.Context, functionName, executionID, stream string, data []byte) (string, error) {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[stream] = data
	return "s3://captures/" + functionName + "/" + executionID + "/" + stream, nil
}

func TestInvokeArchivesOversizedStdout(t *testing.T) {
	big := strings.Repeat("x", inlineOutputLimit+1024)
	eng := &fakeEngine{
		execFn: func(context.Context, []string) (*engine.ExecResult, error) {
			return &engine.ExecResult{ExitCode: 0, Stdout: []byte(big)}, nil
		},
	}
	arch := &fakeArchiver{}
	e := New(eng, &fakePool{}, &recorderStub{}).WithArchiver(arch)

	res, err := e.Invoke(context.Background(), pyFunction("print('x' * 70000)", 30),
		&domain.ExecutionRequest{FunctionName: "hello", Runtime: domain.RuntimeDefault})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if res.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: archiving must not change classification", res.Status)
	}
	if len(res.Stdout) != inlineOutputLimit {
		t.Fatalf("inline stdout length = %d, want %d", len(res.Stdout), inlineOutputLimit)
	}
	if res.StdoutArchiveKey == "" {
		t.Fatal("StdoutArchiveKey not set for an oversized capture")
	}
	if len(arch.puts["stdout"]) != len(big) {
		t.Fatalf("archived %d bytes, want the full %d-byte capture", len(arch.puts["stdout"]), len(big))
	}
}

func TestErrorTagEngineFailure(t *testing.T) {
	r := &execResult{Status: domain.StatusError, Stderr: "engine unavailable: connection refused"}
	if got := r.errorTag(); got != "engine unavailable: connection refused" {
		t.Fatalf("errorTag() = %q, want engine message", got)
	}
}

func TestRandomSuffixIsUnique(t *testing.T) {
	a, b := randomSuffix(), randomSuffix()
	if a == b {
		t.Fatalf("randomSuffix() produced a collision: %q", a)
	}
	if len(a) < 8 {
		t.Fatalf("randomSuffix() length = %d, want >= 8", len(a))
	}
}
