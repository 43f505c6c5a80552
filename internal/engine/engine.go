// Package engine is a thin adapter over the Docker CLI used by every
// component that touches a container: warm pool, sandbox executor, and the
// runtime comparator all go through it. It shells out to the docker binary
// rather than linking the Docker Go SDK.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/oriys/serverlessd/internal/logging"
)

// Kind-tagged errors the adapter produces. Callers use errors.Is.
var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrImagePullFailed   = errors.New("image pull failed")
	ErrNameInUse         = errors.New("container name in use")
	ErrEngineIO          = errors.New("engine io error")
	ErrEngineExec        = errors.New("engine exec error")
)

// HardenedRuntimeTag is the runtime name passed to `docker run --runtime` for
// the hardened isolation mode.
const HardenedRuntimeTag = "runsc"

// Handle is an opaque reference to a running container.
type Handle struct {
	ContainerID string
	Name        string
}

// Engine talks to a single Docker daemon.
type Engine struct {
	binary string
}

// New returns an Engine backed by the docker CLI found on PATH. It does not
// itself verify the daemon is reachable; the first Create call surfaces that.
func New() *Engine {
	return &Engine{binary: "docker"}
}

// Ping verifies the engine is reachable; the daemon calls it at startup and
// logs a warning when it fails.
func (e *Engine) Ping(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.binary, "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return nil
}

// Create starts a container from image under the given isolation runtime tag
// ("" for default, engine.HardenedRuntimeTag for hardened), running command as
// its entrypoint process, and returns once the container is accepting exec.
// The command is expected to be a long-lived placeholder (a sleep) so the
// container stays up for subsequent Exec calls.
func (e *Engine) Create(ctx context.Context, image string, command []string, runtimeTag, workdir, name string) (*Handle, error) {
	args := []string{"run", "-d", "--name", name, "-w", workdir}
	if runtimeTag != "" {
		args = append(args, "--runtime", runtimeTag)
	}
	args = append(args, image)
	args = append(args, command...)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case strings.Contains(msg, "already in use"):
			return nil, fmt.Errorf("%w: %s", ErrNameInUse, msg)
		case strings.Contains(msg, "No such image") || strings.Contains(msg, "pull access denied"):
			return nil, fmt.Errorf("%w: %s", ErrImagePullFailed, msg)
		case strings.Contains(msg, "Cannot connect to the Docker daemon"):
			return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, msg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, msg)
		}
	}

	containerID := strings.TrimSpace(stdout.String())
	logging.Op().Debug("engine: container created", "container", shortID(containerID), "image", image, "runtime", runtimeTag)
	return &Handle{ContainerID: containerID, Name: name}, nil
}

// CopyIn writes content into the running container at targetPath by piping
// it on stdin to `docker exec -i <container> sh -c 'cat > targetPath'`.
func (e *Engine) CopyIn(ctx context.Context, h *Handle, content []byte, targetPath string) error {
	cmd := exec.CommandContext(ctx, e.binary, "exec", "-i", h.ContainerID, "sh", "-c", fmt.Sprintf("cat > %s", shellQuote(targetPath)))
	cmd.Stdin = bytes.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", ErrEngineIO, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ExecResult is the captured outcome of running a command in a container.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Exec runs argv inside the container with the given working directory and
// returns once the process terminates. It does not implement a timeout
// itself; callers race this against their own timer (see the sandbox
// executor).
func (e *Engine) Exec(ctx context.Context, h *Handle, argv []string, workdir string) (*ExecResult, error) {
	args := []string{"exec", "-w", workdir, h.ContainerID}
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else {
			return nil, fmt.Errorf("%w: %v", ErrEngineExec, err)
		}
	}

	return &ExecResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// Stop stops and removes the container, waiting up to grace seconds for a
// clean shutdown. Stop is idempotent and best-effort: failures are logged,
// never returned as fatal to the caller.
func (e *Engine) Stop(h *Handle, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace+5*time.Second)
	defer cancel()

	graceSec := int(grace.Seconds())
	if graceSec < 1 {
		graceSec = 1
	}
	if err := exec.CommandContext(ctx, e.binary, "stop", "-t", fmt.Sprintf("%d", graceSec), h.ContainerID).Run(); err != nil {
		logging.Op().Debug("engine: stop failed, forcing removal", "container", shortID(h.ContainerID), "err", err)
	}
	if err := exec.CommandContext(ctx, e.binary, "rm", "-f", h.ContainerID).Run(); err != nil {
		logging.Op().Debug("engine: rm failed", "container", shortID(h.ContainerID), "err", err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// LongSleepCommand is the entrypoint used to keep a container alive between
// Create and Exec calls.
func LongSleepCommand() []string {
	return []string{"sleep", "86400"}
}
