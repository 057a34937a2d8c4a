// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package container runs the container CLI (docker or podman) against the
// host under test: status, logs, exec, inspect, copy, and restart. Every
// invocation goes through an Executor with a timeout and yields a Result
// whose failures are classified into a Kind with a remediation hint.
package container

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const (
	binDocker = "docker"
	binPodman = "podman"

	// RuntimeAuto selects docker when usable, podman otherwise.
	RuntimeAuto = "auto"
)

// Default timeouts by operation class.
const (
	DefaultDiagnosticTimeout = 5 * time.Second
	DefaultLogTimeout        = 30 * time.Second
	DefaultRestartTimeout    = 120 * time.Second
	DefaultLogTail           = 200
)

// Timeouts bound each operation class.
type Timeouts struct {
	Diagnostic time.Duration
	Logs       time.Duration
	Restart    time.Duration
}

// TimeoutsFrom fills zero fields of cfg with the defaults.
func TimeoutsFrom(cfg types.ContainerConfig) Timeouts {
	t := Timeouts{
		Diagnostic: cfg.DiagnosticTimeout,
		Logs:       cfg.LogTimeout,
		Restart:    cfg.RestartTimeout,
	}
	if t.Diagnostic <= 0 {
		t.Diagnostic = DefaultDiagnosticTimeout
	}
	if t.Logs <= 0 {
		t.Logs = DefaultLogTimeout
	}
	if t.Restart <= 0 {
		t.Restart = DefaultRestartTimeout
	}
	return t
}

// Runtime drives one container binary. Docker and Podman share the same
// subcommands for everything used here.
type Runtime struct {
	bin      string
	exec     Executor
	timeouts Timeouts
}

// NewRuntime returns a Runtime for bin using exec. A nil exec uses the OS.
func NewRuntime(bin string, exec Executor, timeouts Timeouts) *Runtime {
	if exec == nil {
		exec = OSExecutor{}
	}
	return &Runtime{bin: bin, exec: exec, timeouts: timeouts}
}

// Name returns the runtime binary name ("docker" or "podman").
func (r *Runtime) Name() string { return r.bin }

// Available reports whether the binary is on PATH and its daemon answers.
func (r *Runtime) Available(ctx context.Context) bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.run(ctx, r.timeouts.Diagnostic, "info").OK()
}

// Ps lists the named container with its status, including stopped ones.
func (r *Runtime) Ps(ctx context.Context, name string) Result {
	return r.run(ctx, r.timeouts.Diagnostic,
		"ps", "--all", "--filter", "name="+name, "--format", "{{.Names}}\t{{.Status}}")
}

// Logs returns the last tail lines of the container log. A non-positive
// tail uses DefaultLogTail.
func (r *Runtime) Logs(ctx context.Context, name string, tail int) Result {
	if tail <= 0 {
		tail = DefaultLogTail
	}
	return r.run(ctx, r.timeouts.Logs, "logs", "--tail", strconv.Itoa(tail), name)
}

// Exec runs args inside the container.
func (r *Runtime) Exec(ctx context.Context, name string, args ...string) Result {
	full := append([]string{"exec", name}, args...)
	return r.run(ctx, r.timeouts.Logs, full...)
}

// Inspect evaluates a Go template against the container's inspect data.
func (r *Runtime) Inspect(ctx context.Context, name, format string) Result {
	return r.run(ctx, r.timeouts.Diagnostic, "inspect", "--format", format, name)
}

// Cp copies between the host and a container. Either side may use the
// "container:path" form.
func (r *Runtime) Cp(ctx context.Context, src, dst string) Result {
	return r.run(ctx, r.timeouts.Logs, "cp", src, dst)
}

// Restart restarts the container.
func (r *Runtime) Restart(ctx context.Context, name string) Result {
	return r.run(ctx, r.timeouts.Restart, "restart", name)
}

// Running reports whether the container is in the running state.
func (r *Runtime) Running(ctx context.Context, name string) (bool, error) {
	res := r.Inspect(ctx, name, "{{.State.Running}}")
	if err := res.Err(); err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "true", nil
}

// WaitRunning polls Running every interval until it reports true or ctx
// ends.
func (r *Runtime) WaitRunning(ctx context.Context, name string, interval time.Duration) error {
	for {
		if ok, err := r.Running(ctx, name); err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for container %s to run: %w", name, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Local runs a host binary, not the container CLI, under the log timeout.
// It serves tools used on files copied out with Cp.
func (r *Runtime) Local(ctx context.Context, name string, args ...string) Result {
	res := r.exec.Run(ctx, r.timeouts.Logs, name, args...)
	res.Timeout = r.timeouts.Logs
	return res
}

// run invokes the runtime binary. The result records the limit it ran under.
func (r *Runtime) run(ctx context.Context, timeout time.Duration, args ...string) Result {
	res := r.exec.Run(ctx, timeout, r.bin, args...)
	res.Timeout = timeout
	return res
}

// DetectRuntime tries docker first, falls back to podman. Returns an error
// if neither runtime is available.
func DetectRuntime(ctx context.Context, exec Executor, timeouts Timeouts) (*Runtime, error) {
	docker := NewRuntime(binDocker, exec, timeouts)
	if docker.Available(ctx) {
		return docker, nil
	}

	podman := NewRuntime(binPodman, exec, timeouts)
	if podman.Available(ctx) {
		return podman, nil
	}

	return nil, fmt.Errorf(
		"no container runtime available: neither %s nor %s found or operational",
		binDocker, binPodman,
	)
}

// Open returns the runtime named by cfg.Runtime, detecting one when it is
// empty or "auto". A named runtime is checked for availability.
func Open(ctx context.Context, cfg types.ContainerConfig, exec Executor) (*Runtime, error) {
	timeouts := TimeoutsFrom(cfg)
	switch cfg.Runtime {
	case "", RuntimeAuto:
		return DetectRuntime(ctx, exec, timeouts)
	case binDocker, binPodman:
		rt := NewRuntime(cfg.Runtime, exec, timeouts)
		if !rt.Available(ctx) {
			return nil, fmt.Errorf("container runtime %s is not available", cfg.Runtime)
		}
		return rt, nil
	default:
		return nil, fmt.Errorf("invalid container runtime %q: want docker, podman, or auto", cfg.Runtime)
	}
}
