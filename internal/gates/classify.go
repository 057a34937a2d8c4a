// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"errors"
	"maps"
	"time"

	"github.com/pdiddy/plugin-e2e/internal/container"
	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// step names the call that produced an error, for timeout details.
type step struct {
	operation string
	phase     string
}

// fromError turns a gate error into a result. Timeouts fail with the
// structured timeout detail. Errors that read as missing or rejected
// credentials skip. Everything else fails with the classified code. A code
// set explicitly by the gate always wins over text classification.
func fromError(gate, plugin string, err error, at step, details map[string]any) types.GateResult {
	d := maps.Clone(details)
	if d == nil {
		d = map[string]any{}
	}
	msg := redact.Text(err.Error())

	var ce *codedError
	if errors.As(err, &ce) {
		maps.Copy(d, ce.details)
		return types.Failed(gate, plugin, ce.code, []string{msg}, d)
	}

	var te *hostapi.TimeoutError
	if errors.As(err, &te) {
		d["timeout"] = errcode.TimeoutDetail{
			ErrorCode:      errcode.APITimeout,
			TimeoutType:    errcode.TimeoutHTTP,
			TimeoutSeconds: te.Timeout.Seconds(),
			Endpoint:       te.Endpoint,
			Operation:      at.operation,
			Phase:          at.phase,
		}.Map()
		return types.Failed(gate, plugin, errcode.APITimeout, []string{msg}, d)
	}

	if errcode.IsCredentialPrerequisite(msg) {
		d["credentialSignal"] = errcode.CredentialSignal(msg)
		d["operation"] = at.operation
		return types.Skipped(gate, plugin, "credentials missing or rejected: "+msg, d).WithCode(errcode.AuthMissing)
	}

	var se *hostapi.StatusError
	if errors.As(err, &se) {
		d["statusCode"] = se.StatusCode
		d["endpoint"] = se.Endpoint
	}
	d["operation"] = at.operation
	return types.Failed(gate, plugin, errcode.Resolve("", msg), []string{msg}, d)
}

// pollTimeout builds the failed result for a poll that ran out of time.
func pollTimeout(gate, plugin, code, timeoutType, endpoint string, timeout time.Duration, at step, msg string, details map[string]any) types.GateResult {
	d := maps.Clone(details)
	if d == nil {
		d = map[string]any{}
	}
	d["timeout"] = errcode.TimeoutDetail{
		ErrorCode:      errcode.APITimeout,
		TimeoutType:    timeoutType,
		TimeoutSeconds: timeout.Seconds(),
		Endpoint:       endpointPath(endpoint),
		Operation:      at.operation,
		Phase:          at.phase,
	}.Map()
	return types.Failed(gate, plugin, code, []string{redact.Text(msg)}, d)
}

// fromExec turns a failed container invocation into a result. A missing
// runtime or container is an environment prerequisite and skips.
func fromExec(gate, plugin string, res container.Result, at step, details map[string]any) types.GateResult {
	d := maps.Clone(details)
	if d == nil {
		d = map[string]any{}
	}
	d["process"] = map[string]any{
		"command":     res.Command,
		"exitCode":    res.ExitCode,
		"timedOut":    res.TimedOut,
		"kind":        string(res.Kind),
		"remediation": res.Remediation,
	}
	msg := res.Err().Error()

	if res.TimedOut {
		limit := res.Timeout
		if limit <= 0 {
			limit = res.Duration
		}
		d["timeout"] = errcode.TimeoutDetail{
			ErrorCode:      errcode.APITimeout,
			TimeoutType:    errcode.TimeoutProcess,
			TimeoutSeconds: limit.Seconds(),
			Endpoint:       "",
			Operation:      at.operation,
			Phase:          at.phase,
		}.Map()
		return types.Failed(gate, plugin, errcode.APITimeout, []string{msg}, d)
	}

	switch res.Kind {
	case container.KindCLIMissing, container.KindDaemonUnavailable, container.KindPermissionDenied:
		return types.Skipped(gate, plugin, "container runtime unavailable: "+msg, d).WithCode(errcode.DockerUnavailable)
	case container.KindContainerNotFound:
		return types.Skipped(gate, plugin, "host container not found: "+msg, d).WithCode(errcode.DockerUnavailable)
	}
	return types.Failed(gate, plugin, errcode.Resolve("", msg), []string{msg}, d)
}

// endpointPath is the redacted path and query of endpoint, or "" when the
// timeout was not against an endpoint.
func endpointPath(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	return redact.PathAndQuery(endpoint)
}
