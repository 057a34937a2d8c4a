// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool   // binary -> whether LookPath succeeds
	results       map[string]Result // "bin arg1 arg2" -> result; missing keys exit 1
	calls         []mockCall
}

type mockCall struct {
	line    string
	timeout time.Duration
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) Run(_ context.Context, timeout time.Duration, name string, args ...string) Result {
	key := name + " " + strings.Join(args, " ")
	m.calls = append(m.calls, mockCall{line: key, timeout: timeout})
	if r, ok := m.results[key]; ok {
		r.Command = key
		return r
	}
	return Result{Command: key, ExitCode: 1, Stderr: "command failed: " + key, Kind: KindUnknown}
}

func (m *mockExecutor) lastCall(t *testing.T) mockCall {
	t.Helper()
	if len(m.calls) == 0 {
		t.Fatal("no calls recorded")
	}
	return m.calls[len(m.calls)-1]
}

var testTimeouts = Timeouts{Diagnostic: 5 * time.Second, Logs: 30 * time.Second, Restart: 120 * time.Second}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name     string
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name: "docker available",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				results:       map[string]Result{"docker info": {}},
			},
			wantName: "docker",
		},
		{
			name: "podman fallback when docker missing",
			exec: &mockExecutor{
				availableBins: map[string]bool{"podman": true},
				results:       map[string]Result{"podman info": {}},
			},
			wantName: "podman",
		},
		{
			name: "neither available",
			exec: &mockExecutor{
				availableBins: map[string]bool{},
				results:       map[string]Result{},
			},
			wantErr: true,
		},
		{
			name: "docker on PATH but info fails, podman works",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				results:       map[string]Result{"podman info": {}},
			},
			wantName: "podman",
		},
		{
			name: "both available, docker preferred",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				results:       map[string]Result{"docker info": {}, "podman info": {}},
			},
			wantName: "docker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := DetectRuntime(context.Background(), tt.exec, testTimeouts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), "no container runtime available") {
					t.Errorf("error should mention no runtime available, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt.Name() != tt.wantName {
				t.Errorf("got runtime %q, want %q", rt.Name(), tt.wantName)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	exec := &mockExecutor{
		availableBins: map[string]bool{"docker": true, "podman": true},
		results:       map[string]Result{"podman info": {}},
	}

	rt, err := Open(context.Background(), types.ContainerConfig{Runtime: "podman"}, exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Name() != "podman" {
		t.Errorf("got runtime %q, want podman", rt.Name())
	}

	if _, err := Open(context.Background(), types.ContainerConfig{Runtime: "docker"}, exec); err == nil {
		t.Error("expected error for unavailable docker")
	}
	if _, err := Open(context.Background(), types.ContainerConfig{Runtime: "lxc"}, exec); err == nil {
		t.Error("expected error for unknown runtime")
	}
}

func TestTimeoutsFrom(t *testing.T) {
	got := TimeoutsFrom(types.ContainerConfig{LogTimeout: 10 * time.Second})
	want := Timeouts{Diagnostic: DefaultDiagnosticTimeout, Logs: 10 * time.Second, Restart: DefaultRestartTimeout}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRuntimeOps(t *testing.T) {
	tests := []struct {
		name        string
		call        func(*Runtime) Result
		wantLine    string
		wantTimeout time.Duration
	}{
		{
			name:        "ps",
			call:        func(r *Runtime) Result { return r.Ps(context.Background(), "lidarr") },
			wantLine:    "docker ps --all --filter name=lidarr --format {{.Names}}\t{{.Status}}",
			wantTimeout: 5 * time.Second,
		},
		{
			name:        "logs with tail",
			call:        func(r *Runtime) Result { return r.Logs(context.Background(), "lidarr", 50) },
			wantLine:    "docker logs --tail 50 lidarr",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "logs default tail",
			call:        func(r *Runtime) Result { return r.Logs(context.Background(), "lidarr", 0) },
			wantLine:    "docker logs --tail 200 lidarr",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "exec",
			call:        func(r *Runtime) Result { return r.Exec(context.Background(), "lidarr", "ls", "-1", "/downloads") },
			wantLine:    "docker exec lidarr ls -1 /downloads",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "inspect",
			call:        func(r *Runtime) Result { return r.Inspect(context.Background(), "lidarr", "{{.State.Status}}") },
			wantLine:    "docker inspect --format {{.State.Status}} lidarr",
			wantTimeout: 5 * time.Second,
		},
		{
			name:        "cp",
			call:        func(r *Runtime) Result { return r.Cp(context.Background(), "lidarr:/config/logs", "/tmp/logs") },
			wantLine:    "docker cp lidarr:/config/logs /tmp/logs",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "local",
			call:        func(r *Runtime) Result { return r.Local(context.Background(), "ffprobe", "-v", "error", "/tmp/01.flac") },
			wantLine:    "ffprobe -v error /tmp/01.flac",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "restart",
			call:        func(r *Runtime) Result { return r.Restart(context.Background(), "lidarr") },
			wantLine:    "docker restart lidarr",
			wantTimeout: 120 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{}
			res := tt.call(NewRuntime("docker", exec, testTimeouts))
			if res.Timeout != tt.wantTimeout {
				t.Errorf("result timeout %v, want %v", res.Timeout, tt.wantTimeout)
			}
			got := exec.lastCall(t)
			if got.line != tt.wantLine {
				t.Errorf("got command %q, want %q", got.line, tt.wantLine)
			}
			if got.timeout != tt.wantTimeout {
				t.Errorf("got timeout %v, want %v", got.timeout, tt.wantTimeout)
			}
		})
	}
}

func TestRunning(t *testing.T) {
	exec := &mockExecutor{results: map[string]Result{
		"docker inspect --format {{.State.Running}} up":   {Stdout: "true\n"},
		"docker inspect --format {{.State.Running}} down": {Stdout: "false\n"},
	}}
	rt := NewRuntime("docker", exec, testTimeouts)

	if ok, err := rt.Running(context.Background(), "up"); err != nil || !ok {
		t.Errorf("up: got (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := rt.Running(context.Background(), "down"); err != nil || ok {
		t.Errorf("down: got (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := rt.Running(context.Background(), "missing"); err == nil {
		t.Error("missing: expected error")
	}
}

func TestWaitRunning_ContextEnds(t *testing.T) {
	exec := &mockExecutor{}
	rt := NewRuntime("docker", exec, testTimeouts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := rt.WaitRunning(ctx, "lidarr", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if len(exec.calls) < 2 {
		t.Errorf("expected repeated polls, got %d", len(exec.calls))
	}
}

func TestRuntimeName(t *testing.T) {
	exec := &mockExecutor{}
	if got := NewRuntime(binDocker, exec, testTimeouts).Name(); got != "docker" {
		t.Errorf("docker runtime name = %q, want %q", got, "docker")
	}
	if got := NewRuntime(binPodman, exec, testTimeouts).Name(); got != "podman" {
		t.Errorf("podman runtime name = %q, want %q", got, "podman")
	}
}
