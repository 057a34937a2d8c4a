// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not on PATH", name)
	}
}

func TestOSExecutor_Timeout(t *testing.T) {
	requireBinary(t, "sleep")

	start := time.Now()
	res := OSExecutor{}.Run(context.Background(), 2*time.Second, "sleep", "30")

	assert.True(t, res.TimedOut)
	assert.Equal(t, ExitTimedOut, res.ExitCode)
	assert.Contains(t, []Kind{KindUnknown, KindDaemonUnavailable}, res.Kind)
	assert.NotEmpty(t, res.Remediation)
	assert.Less(t, time.Since(start), 10*time.Second, "process must be killed")
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "timed out")
}

func TestOSExecutor_ExitCodeAndStreams(t *testing.T) {
	requireBinary(t, "sh")

	res := OSExecutor{}.Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo 'Error: No such container: lidarr' >&2; exit 3")

	assert.False(t, res.TimedOut)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, KindContainerNotFound, res.Kind)
	assert.Equal(t, Remediation(KindContainerNotFound), res.Remediation)
}

func TestOSExecutor_Success(t *testing.T) {
	requireBinary(t, "sh")

	res := OSExecutor{}.Run(context.Background(), 5*time.Second, "sh", "-c", "printf ok")

	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, KindNone, res.Kind)
	assert.Empty(t, res.Remediation)
}

func TestOSExecutor_MissingBinary(t *testing.T) {
	res := OSExecutor{}.Run(context.Background(), time.Second, "plugin-e2e-no-such-binary")

	assert.Equal(t, KindCLIMissing, res.Kind)
	assert.Equal(t, 127, res.ExitCode)
	assert.False(t, res.OK())
}

func TestOSExecutor_StderrRedacted(t *testing.T) {
	requireBinary(t, "sh")

	res := OSExecutor{}.Run(context.Background(), 5*time.Second, "sh", "-c", "echo 'GET http://10.0.0.4:8686/api?apikey=s3cr3t' >&2; exit 1")

	assert.NotContains(t, res.Stderr, "s3cr3t")
	assert.NotContains(t, res.Stderr, "10.0.0.4")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		stderr string
		want   Kind
	}{
		{"Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?", KindDaemonUnavailable},
		{"Error: unable to connect to Podman socket", KindDaemonUnavailable},
		{"error during connect: Get \"http://%2F%2F.%2Fpipe%2Fdocker_engine/v1.24/containers/json\"", KindDaemonUnavailable},
		{"Got permission denied while trying to connect to the Docker daemon socket", KindPermissionDenied},
		{"Error response from daemon: No such container: lidarr", KindContainerNotFound},
		{"Error: no container with name or ID \"lidarr\" found", KindContainerNotFound},
		{"Error response from daemon: Container 4f2a is not running", KindContainerNotFound},
		{"OCI runtime exec failed: exec failed: unable to start container process: exec: \"ffprobe\": executable file not found in $PATH", KindExecFailed},
		{"sh: docker: command not found", KindCLIMissing},
		{"exec: \"docker\": executable file not found in $PATH", KindCLIMissing},
		{"Cannot\n   connect   to\tthe Docker daemon", KindDaemonUnavailable},
		{"", KindUnknown},
		{"something odd happened", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stderr))
		})
	}
}

func TestRemediationCoversKinds(t *testing.T) {
	for _, k := range []Kind{KindCLIMissing, KindDaemonUnavailable, KindPermissionDenied, KindContainerNotFound, KindExecFailed, KindUnknown} {
		assert.NotEmpty(t, Remediation(k), k)
	}
	assert.Empty(t, Remediation(KindNone))
}
