// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/httputil"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// invalidAPIKey is sent by the AuthFailure probe. It is not a secret.
const invalidAPIKey = "plugin-e2e-invalid-key"

const defaultAuthFailureMode = "401"

var authFailureModes = map[string]int{
	"401": http.StatusUnauthorized,
	"403": http.StatusForbidden,
	"429": http.StatusTooManyRequests,
}

// runAuthFailure calls the host with a bad API key and checks that it fails
// the way the configured mode expects. A 429 must carry Retry-After.
func runAuthFailure(ctx context.Context, r *Runner, _ *state) types.GateResult {
	name := types.GateAuthFailure
	mode := strings.TrimSpace(r.cfg.Gates.AuthFailureMode)
	if mode == "" {
		mode = defaultAuthFailureMode
	}
	expected, ok := authFailureModes[mode]
	if !ok {
		return types.Failed(name, r.plugin(), errcode.ConfigInvalid,
			[]string{fmt.Sprintf("invalid auth failure mode %q: want 401, 403 or 429", mode)}, nil)
	}

	const path = "/system/status"
	res, err := r.host.WithAPIKey(invalidAPIKey).Raw(ctx, http.MethodGet, path, nil, nil,
		httputil.Options{ExpectFailure: true, NoRetry: true})
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "GET " + path, phase: "probe"}, nil)
	}

	details := map[string]any{
		"mode":             mode,
		"expectedStatus":   expected,
		"statusCode":       res.StatusCode,
		"failedAsExpected": false,
		"retryAfter":       res.RetryAfter,
	}
	if len(res.Body) > 0 {
		details["bodyExcerpt"] = redact.Text(excerpt(string(res.Body), 200))
	}

	switch {
	case res.TimedOut:
		at := step{operation: "GET " + path, phase: "probe"}
		return pollTimeout(name, r.plugin(), errcode.APITimeout, errcode.TimeoutHTTP, "/api/v1"+path,
			r.host.Timeout(), at, "auth failure probe timed out", details)
	case res.StatusCode == 0:
		msg := "auth failure probe got no response"
		if res.Err != nil {
			msg += ": " + res.Err.Error()
		}
		return types.Failed(name, r.plugin(), errcode.Resolve("", msg), []string{msg}, details)
	case res.StatusCode != expected:
		return types.Failed(name, r.plugin(), "",
			[]string{fmt.Sprintf("invalid API key returned HTTP %d, expected %d", res.StatusCode, expected)}, details)
	case expected == http.StatusTooManyRequests && res.RetryAfter == "":
		return types.Failed(name, r.plugin(), "",
			[]string{"HTTP 429 returned without a Retry-After header"}, details)
	}

	details["failedAsExpected"] = true
	return types.Succeeded(name, r.plugin(), details)
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
