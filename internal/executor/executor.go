// Package executor implements the Sandbox Executor: the single-execution
// orchestrator that acquires a container (warm or cold), stages the
// function's code into it, runs it under a wall-clock timeout, and returns a
// structured result together with a complete metrics block.
//
// # Invocation pipeline
//
// Invoke is the only entry point. For every call:
//
//  1. Start the timer and initialize the metrics block with the runtime and
//     language tags.
//  2. Acquire a container: pool checkout for a warm default-runtime request,
//     otherwise a cold create. The hardened runtime always cold-starts.
//  3. Record initialization_time_ms.
//  4. Stage the function's source into the container at /app/<name><ext>.
//  5. Exec the language's interpreter against the staged file, racing
//     completion against the function's timeout.
//  6. Record execution_time_ms and classify the outcome.
//  7. Record total_time_ms, tear the container down, persist the metric.
//
// # Concurrency
//
// Invoke is safe for concurrent use; each call owns its own container for
// its duration and touches no shared mutable state beyond the pool (which
// has its own locking) and the metrics store (its own transactions).
//
// # Failure behaviour
//
// Every failure (unsupported language, engine errors, staging errors) is
// caught and converted into an ExecutionResult with status=error and a
// populated metrics block, so callers always receive a classified result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/serverlessd/internal/domain"
	"github.com/oriys/serverlessd/internal/engine"
	"github.com/oriys/serverlessd/internal/logging"
	"github.com/oriys/serverlessd/internal/metrics"
	"github.com/oriys/serverlessd/internal/pool"
	"github.com/oriys/serverlessd/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetricsRecorder is the subset of the metrics store Invoke depends on,
// allowing tests to substitute a fake.
type MetricsRecorder interface {
	Record(ctx context.Context, m *domain.ExecutionMetric) error
}

// ContainerEngine is the engine adapter surface the executor drives. The
// production implementation is *engine.Engine; tests inject a fake.
type ContainerEngine interface {
	Create(ctx context.Context, image string, command []string, runtimeTag, workdir, name string) (*engine.Handle, error)
	CopyIn(ctx context.Context, h *engine.Handle, content []byte, targetPath string) error
	Exec(ctx context.Context, h *engine.Handle, argv []string, workdir string) (*engine.ExecResult, error)
	Stop(h *engine.Handle, grace time.Duration)
}

// WarmPool is the warm-pool surface the executor consumes: checkout for warm
// acquisition, EnsureBucket to lazily start pre-warming after a miss, and
// Release to destroy a checked-out container after its execution.
type WarmPool interface {
	Checkout(language domain.Language, runtime domain.IsolationRuntime) *pool.Container
	EnsureBucket(language domain.Language, runtime domain.IsolationRuntime)
	Release(c *pool.Container)
}

// OutputArchiver offloads an oversized stdout/stderr capture to cold
// storage, returning a reference the caller can use to retrieve it later.
type OutputArchiver interface {
	PutOutput(ctx context.Context, functionName, executionID, stream string, data []byte) (string, error)
}

// inlineOutputLimit is the largest stdout/stderr capture kept inline on the
// ExecutionResult; larger captures are archived and truncated to this size.
const inlineOutputLimit = 64 * 1024

var tracer = otel.Tracer("serverlessd/executor")

// Executor orchestrates sandboxed function executions.
//
// The zero value is not usable; always construct via New.
type Executor struct {
	eng      ContainerEngine
	pool     WarmPool
	metrics  MetricsRecorder
	archiver OutputArchiver
	logger   *logging.Logger
}

// New creates a ready-to-use Executor.
func New(eng ContainerEngine, p WarmPool, metricsStore MetricsRecorder) *Executor {
	return &Executor{
		eng:     eng,
		pool:    p,
		metrics: metricsStore,
		logger:  logging.Default(),
	}
}

// WithArchiver attaches an output archive used to offload stdout/stderr
// captures larger than inlineOutputLimit. Optional: without one, captures
// are always returned inline regardless of size.
func (e *Executor) WithArchiver(a OutputArchiver) *Executor {
	e.archiver = a
	return e
}

// Invoke runs fn under req and returns a complete ExecutionResult. Failures
// of any kind are folded into a classified result (status success/error/
// timeout) with a populated metrics block rather than returned as an error.
func (e *Executor) Invoke(ctx context.Context, fn *domain.Function, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "sandbox.invoke",
		trace.WithAttributes(
			attribute.String("function", fn.Name),
			attribute.String("runtime", string(req.Runtime)),
			attribute.Bool("warm_start", req.WarmStart),
		))
	defer span.End()

	t0 := time.Now()

	metric := &domain.ExecutionMetric{
		FunctionName: fn.Name,
		Runtime:      req.Runtime,
		Language:     fn.Language,
		Timestamp:    time.Now(),
	}

	profile, err := registry.Lookup(fn.Language)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.unsupportedLanguageResult(ctx, metric, t0, err)
	}

	handle, pooled, acquireErr := e.acquire(ctx, fn, req, profile)
	coldStart := pooled == nil
	metric.ColdStart = coldStart
	metric.InitializationMs = time.Since(t0).Milliseconds()

	if acquireErr != nil {
		span.SetStatus(codes.Error, acquireErr.Error())
		return e.engineFailureResult(ctx, metric, t0, acquireErr)
	}

	timeout := time.Duration(fn.TimeoutS) * time.Second
	result := e.execute(ctx, handle, profile, fn, timeout)

	metric.ExecutionMs = result.execMs
	metric.TotalMs = time.Since(t0).Milliseconds()
	metric.Status = result.Status
	metric.Error = result.errorTag()

	e.teardown(handle, pooled)
	e.persist(ctx, metric)

	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Bool("cold_start", coldStart),
		attribute.Int64("total_time_ms", metric.TotalMs),
	)
	if result.Status == domain.StatusSuccess {
		span.SetStatus(codes.Ok, "")
	}

	e.logger.Log(&logging.ExecutionLog{
		RequestID: spanRequestID(span),
		TraceID:   span.SpanContext().TraceID().String(),
		SpanID:    span.SpanContext().SpanID().String(),
		Function:  fn.Name,
		Language:  string(fn.Language),
		Runtime:   string(req.Runtime),
		Status:    string(result.Status),
		ColdStart: coldStart,
		InitMs:    metric.InitializationMs,
		ExecMs:    metric.ExecutionMs,
		TotalMs:   metric.TotalMs,
		Error:     metric.Error,
	})

	metrics.Global().RecordExecution(fn.Name, req.Runtime, result.Status, metric.TotalMs, coldStart)

	execResult := &domain.ExecutionResult{
		Status:   result.Status,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Metrics:  metric,
	}
	e.archiveOversizedOutput(ctx, fn.Name, execResult)

	return execResult, nil
}

// archiveOversizedOutput offloads stdout/stderr captures past
// inlineOutputLimit to the configured output archive and truncates the
// inline copy. No-op when no archiver is attached; archive failures are
// logged and leave the inline (untruncated) capture in place.
func (e *Executor) archiveOversizedOutput(ctx context.Context, functionName string, r *domain.ExecutionResult) {
	if e.archiver == nil {
		return
	}
	executionID := randomSuffix()
	if len(r.Stdout) > inlineOutputLimit {
		key, err := e.archiver.PutOutput(ctx, functionName, executionID, "stdout", []byte(r.Stdout))
		if err != nil {
			logging.OpWithTrace(ctx).Warn("executor: failed to archive stdout", "function", functionName, "err", err)
		} else {
			r.StdoutArchiveKey = key
			r.Stdout = r.Stdout[:inlineOutputLimit]
		}
	}
	if len(r.Stderr) > inlineOutputLimit {
		key, err := e.archiver.PutOutput(ctx, functionName, executionID, "stderr", []byte(r.Stderr))
		if err != nil {
			logging.OpWithTrace(ctx).Warn("executor: failed to archive stderr", "function", functionName, "err", err)
		} else {
			r.StderrArchiveKey = key
			r.Stderr = r.Stderr[:inlineOutputLimit]
		}
	}
}

// acquire obtains a container for the execution, implementing the three-way
// branch of the acquisition algorithm: hardened always cold-starts,
// warm_start attempts a pool checkout before falling back to a cold create,
// and plain requests always cold-start. A non-nil pooled return means the
// container came from the warm pool and must go back through Release.
func (e *Executor) acquire(ctx context.Context, fn *domain.Function, req *domain.ExecutionRequest, profile registry.Profile) (*engine.Handle, *pool.Container, error) {
	if req.Runtime == domain.RuntimeHardened {
		h, err := e.coldCreate(ctx, profile, engine.HardenedRuntimeTag)
		return h, nil, err
	}

	if req.WarmStart {
		if c := e.pool.Checkout(fn.Language, domain.RuntimeDefault); c != nil {
			return c.Handle, c, nil
		}
		e.pool.EnsureBucket(fn.Language, domain.RuntimeDefault)
		h, err := e.coldCreate(ctx, profile, "")
		return h, nil, err
	}

	h, err := e.coldCreate(ctx, profile, "")
	return h, nil, err
}

func (e *Executor) coldCreate(ctx context.Context, profile registry.Profile, runtimeTag string) (*engine.Handle, error) {
	name := "serverlessd-" + randomSuffix()
	return e.eng.Create(ctx, profile.Image, engine.LongSleepCommand(), runtimeTag, "/app", name)
}

// execResult is the internal shape of an exec outcome before it is folded
// into the public ExecutionResult plus metric.
type execResult struct {
	Status   domain.ExecutionStatus
	Stdout   string
	Stderr   string
	ExitCode int
	execMs   int64
	exitN    int
}

func (r *execResult) errorTag() string {
	switch {
	case r.Status == domain.StatusTimeout:
		return "timeout"
	case r.Status == domain.StatusError && r.exitN != 0:
		return fmt.Sprintf("exit_code_%d", r.exitN)
	case r.Status == domain.StatusError:
		return r.Stderr
	default:
		return ""
	}
}

// execute stages the code, runs it, and races completion against timeout.
// Stage and exec failures are both folded into an error execResult; the
// caller is responsible for tearing down the container either way.
func (e *Executor) execute(ctx context.Context, h *engine.Handle, profile registry.Profile, fn *domain.Function, timeout time.Duration) *execResult {
	stageStart := time.Now()

	filename := "/app/fn-" + randomSuffix() + profile.Extension
	if err := e.eng.CopyIn(ctx, h, []byte(fn.Code), filename); err != nil {
		return &execResult{
			Status:   domain.StatusError,
			Stderr:   err.Error(),
			ExitCode: -1,
			execMs:   time.Since(stageStart).Milliseconds(),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execStart := time.Now()
	argv := profile.Command(filename)
	res, err := e.eng.Exec(execCtx, h, argv, "/app")
	execMs := time.Since(execStart).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &execResult{
				Status:   domain.StatusTimeout,
				Stderr:   "execution exceeded timeout",
				ExitCode: -1,
				execMs:   execMs,
			}
		}
		return &execResult{
			Status:   domain.StatusError,
			Stderr:   err.Error(),
			ExitCode: -1,
			execMs:   execMs,
		}
	}

	status := domain.StatusSuccess
	if res.ExitCode != 0 {
		status = domain.StatusError
	}
	if float64(execMs) > timeout.Seconds()*1000 {
		status = domain.StatusTimeout
	}

	return &execResult{
		Status:   status,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		ExitCode: res.ExitCode,
		execMs:   execMs,
		exitN:    res.ExitCode,
	}
}

// teardown releases the container: pool containers go back through Release,
// which destroys them (never returns them to the idle list), cold-started
// containers are stopped directly.
func (e *Executor) teardown(h *engine.Handle, pooled *pool.Container) {
	if pooled != nil {
		e.pool.Release(pooled)
		return
	}
	e.eng.Stop(h, 2*time.Second)
}

func (e *Executor) persist(ctx context.Context, m *domain.ExecutionMetric) {
	if e.metrics == nil {
		return
	}
	if err := e.metrics.Record(ctx, m); err != nil {
		logging.OpWithTrace(ctx).Warn("executor: failed to persist metric", "function", m.FunctionName, "err", err)
	}
}

func (e *Executor) unsupportedLanguageResult(ctx context.Context, m *domain.ExecutionMetric, t0 time.Time, err error) (*domain.ExecutionResult, error) {
	m.TotalMs = time.Since(t0).Milliseconds()
	m.Status = domain.StatusError
	m.Error = err.Error()
	e.persist(ctx, m)
	return &domain.ExecutionResult{
		Status:   domain.StatusError,
		Stderr:   err.Error(),
		ExitCode: -1,
		Metrics:  m,
	}, nil
}

func (e *Executor) engineFailureResult(ctx context.Context, m *domain.ExecutionMetric, t0 time.Time, err error) (*domain.ExecutionResult, error) {
	m.TotalMs = time.Since(t0).Milliseconds()
	m.Status = domain.StatusError
	m.Error = err.Error()
	e.persist(ctx, m)
	return &domain.ExecutionResult{
		Status:   domain.StatusError,
		Stderr:   err.Error(),
		ExitCode: -1,
		Metrics:  m,
	}, nil
}

func spanRequestID(span trace.Span) string {
	sc := span.SpanContext()
	if sc.HasSpanID() {
		return sc.SpanID().String()[:8]
	}
	return randomSuffix()
}
