// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/plugin-e2e/internal/redact"
)

// ExitTimedOut is the exit code reported for a killed, timed-out process.
// It matches coreutils timeout(1).
const ExitTimedOut = 124

// exitNotFound is reported when the binary could not be started.
const exitNotFound = 127

// Kind classifies a failed invocation.
type Kind string

const (
	KindNone              Kind = ""
	KindCLIMissing        Kind = "cli_missing"
	KindDaemonUnavailable Kind = "daemon_unavailable"
	KindPermissionDenied  Kind = "permission_denied"
	KindContainerNotFound Kind = "container_not_found"
	KindExecFailed        Kind = "exec_failed"
	KindUnknown           Kind = "unknown"
)

var remediations = map[Kind]string{
	KindCLIMissing:        "install docker or podman and make sure the binary is on PATH",
	KindDaemonUnavailable: "start the container daemon (systemctl start docker) or point DOCKER_HOST at a running one",
	KindPermissionDenied:  "add the current user to the docker group or run the rootless podman socket",
	KindContainerNotFound: "check the container name with 'docker ps -a' and set container.name",
	KindExecFailed:        "the command inside the container failed; check that the image ships the tool",
	KindUnknown:           "rerun with --verbose and read the captured stderr",
}

// Remediation returns the operator hint for k.
func Remediation(k Kind) string { return remediations[k] }

type kindRule struct {
	re   *regexp.Regexp
	kind Kind
}

// kindRules run against whitespace-collapsed, redacted stderr. First match
// wins. OCI exec errors mention missing executables inside the container,
// so they come before the CLI rule.
var kindRules = []kindRule{
	{regexp.MustCompile(`(?i)oci runtime (exec )?failed|exec failed|unable to start container process`), KindExecFailed},
	{regexp.MustCompile(`(?i)permission denied`), KindPermissionDenied},
	{regexp.MustCompile(`(?i)cannot connect to (the )?(docker|podman)( daemon)?|is the docker daemon running|error during connect|unable to connect to podman`), KindDaemonUnavailable},
	{regexp.MustCompile(`(?i)no such (container|object)|no container with (name or id|name|id)|container .* (not found|is not running)`), KindContainerNotFound},
	{regexp.MustCompile(`(?i)executable file not found|command not found`), KindCLIMissing},
}

var spaceRe = regexp.MustCompile(`\s+`)

// Classify maps stderr to a failure kind. Empty input yields KindUnknown.
func Classify(stderr string) Kind {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(redact.Text(stderr), " "))
	for _, r := range kindRules {
		if r.re.MatchString(s) {
			return r.kind
		}
	}
	return KindUnknown
}

// Result is the outcome of one process invocation. Stderr is redacted;
// Stdout is returned raw for parsing.
type Result struct {
	Command     string        `json:"command"`
	Stdout      string        `json:"-"`
	Stderr      string        `json:"stderr,omitempty"`
	ExitCode    int           `json:"exitCode"`
	TimedOut    bool          `json:"timedOut"`
	Duration    time.Duration `json:"durationNs"`
	Timeout     time.Duration `json:"timeoutNs,omitempty"`
	Kind        Kind          `json:"kind,omitempty"`
	Remediation string        `json:"remediation,omitempty"`
}

// OK reports whether the process exited zero within its timeout.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// Err returns nil for a successful result, otherwise an error naming the
// command, the kind, and the first stderr line.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ExecError{Result: r}
}

// ExecError wraps a failed Result.
type ExecError struct {
	Result Result
}

func (e *ExecError) Error() string {
	r := e.Result
	var b strings.Builder
	b.WriteString(r.Command)
	if r.TimedOut {
		b.WriteString(": timed out after ")
		b.WriteString(r.Duration.Round(time.Millisecond).String())
	} else {
		b.WriteString(": exit ")
		b.WriteString(strconv.Itoa(r.ExitCode))
	}
	if r.Kind != KindNone {
		b.WriteString(" (")
		b.WriteString(string(r.Kind))
		b.WriteString(")")
	}
	if line, _, _ := strings.Cut(strings.TrimSpace(r.Stderr), "\n"); line != "" {
		b.WriteString(": ")
		b.WriteString(line)
	}
	return b.String()
}

// Executor runs processes. Tests substitute a fake.
type Executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result
}

// OSExecutor is the production Executor backed by os/exec.
type OSExecutor struct{}

// LookPath resolves file on PATH.
func (OSExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run starts name with args and waits at most timeout (no limit when zero).
// On timeout the process is killed and the result carries TimedOut=true
// and ExitCode=ExitTimedOut.
func (OSExecutor) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  commandLine(name, args),
		Stdout:   stdout.String(),
		Stderr:   redact.Text(stderr.String()),
		Duration: time.Since(start),
		Timeout:  timeout,
	}

	switch {
	case err == nil:
		return res
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = ExitTimedOut
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = exitNotFound
		res.Kind = KindCLIMissing
		res.Stderr = redact.Text(err.Error())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = redact.Text(err.Error())
			}
		}
	}

	if res.Kind == KindNone {
		res.Kind = Classify(res.Stderr)
	}
	res.Remediation = Remediation(res.Kind)
	return res
}

func commandLine(name string, args []string) string {
	return redact.Text(strings.TrimSpace(name + " " + strings.Join(args, " ")))
}

