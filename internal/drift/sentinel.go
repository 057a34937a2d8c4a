// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package drift probes live providers and compares their responses with
// recorded field contracts, so canned test fixtures that no longer match
// reality are caught.
//
// Each provider gets two probes. The error-mode probe needs no
// credentials: it sends an invalid request and checks the error body. The
// success-mode probe sends an authenticated request and checks Required,
// Optional and AtLeastOne fields. A rate limit or outage makes a probe
// inconclusive, never drift.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/plugin-e2e/internal/httputil"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// maxParallel bounds concurrent provider probes.
const maxParallel = 4

// Sentinel runs contract probes.
type Sentinel struct {
	// HTTP is the transport shared by every provider client.
	HTTP *http.Client

	// Secrets fills ${name} placeholders in probes.
	Secrets map[string]string

	// MaxRetries is the per-call retry budget on 429 and 5xx.
	MaxRetries int

	// Parallel probes providers concurrently, each with its own limiter.
	Parallel bool

	Logger *slog.Logger

	// Sleep replaces backoff waits. Tests set it to avoid real sleeps.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run probes every contract and returns the reports in contract order,
// error mode before success mode.
func (s *Sentinel) Run(ctx context.Context, contracts []Contract) []types.DriftReport {
	per := make([][]types.DriftReport, len(contracts))
	if !s.Parallel {
		for i, c := range contracts {
			per[i] = s.probeProvider(ctx, c)
		}
		return flatten(per)
	}

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, c := range contracts {
		g.Go(func() error {
			per[i] = s.probeProvider(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return flatten(per)
}

// Detected reports whether any report found drift.
func Detected(reports []types.DriftReport) bool {
	for _, r := range reports {
		if r.DriftDetected {
			return true
		}
	}
	return false
}

func flatten(per [][]types.DriftReport) []types.DriftReport {
	var out []types.DriftReport
	for _, rs := range per {
		out = append(out, rs...)
	}
	return out
}

func (s *Sentinel) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

// probeProvider runs both probes of c with a client of its own, so one
// provider's rate limiting never slows another.
func (s *Sentinel) probeProvider(ctx context.Context, c Contract) []types.DriftReport {
	client := httputil.NewClient(s.HTTP, s.MaxRetries, s.logger())
	if s.Sleep != nil {
		client.Sleep = s.Sleep
	}

	var out []types.DriftReport
	if c.Error != nil {
		out = append(out, s.errorMode(ctx, client, c.Provider, *c.Error))
	}
	if c.Success != nil {
		out = append(out, s.successMode(ctx, client, c.Provider, *c.Success))
	}
	for i := range out {
		out[i].Details = redact.Text(out[i].Details)
		out[i].SkipReason = redact.Text(out[i].SkipReason)
		s.logger().Info("drift probe",
			"provider", out[i].Provider, "mode", out[i].Mode,
			"drift", out[i].DriftDetected, "inconclusive", out[i].Inconclusive, "skipped", out[i].Skipped)
	}
	return out
}

func (s *Sentinel) errorMode(ctx context.Context, client *httputil.Client, provider string, p ErrorProbe) types.DriftReport {
	rep := types.DriftReport{Provider: provider, Mode: types.DriftModeError}
	req, err := s.request(ctx, p.Probe)
	if err != nil {
		rep.Inconclusive = true
		rep.Details = "building request: " + err.Error()
		return rep
	}
	res := client.Do(ctx, req, httputil.Options{ExpectFailure: true})
	rep.StatusCode = res.StatusCode
	if reason, ok := unavailable(res); ok {
		rep.Inconclusive = true
		rep.Details = reason
		return rep
	}
	if res.StatusCode < 400 {
		rep.DriftDetected = true
		rep.Details = fmt.Sprintf("invalid request succeeded with HTTP %d", res.StatusCode)
		return rep
	}

	doc, err := decode(res.Body)
	if err != nil {
		if len(p.ExpectedErrorFields) > 0 {
			rep.DriftDetected = true
			rep.MissingFields = append([]string(nil), p.ExpectedErrorFields...)
			rep.Details = fmt.Sprintf("error body is not JSON (HTTP %d)", res.StatusCode)
		}
		return rep
	}
	rep.MissingFields = missingPaths(doc, p.ExpectedErrorFields)
	if len(rep.MissingFields) > 0 {
		rep.DriftDetected = true
		rep.Details = "error response missing fields: " + strings.Join(rep.MissingFields, ", ")
	}
	return rep
}

func (s *Sentinel) successMode(ctx context.Context, client *httputil.Client, provider string, p SuccessProbe) types.DriftReport {
	rep := types.DriftReport{Provider: provider, Mode: types.DriftModeSuccess}
	var missing []string
	for _, name := range p.Credentials {
		if strings.TrimSpace(s.Secrets[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		rep.Skipped = true
		rep.SkipReason = "missing credentials: " + strings.Join(missing, ", ")
		return rep
	}

	req, err := s.request(ctx, p.Probe)
	if err != nil {
		rep.Inconclusive = true
		rep.Details = "building request: " + err.Error()
		return rep
	}
	res := client.Do(ctx, req, httputil.Options{})
	rep.StatusCode = res.StatusCode
	if reason, ok := unavailable(res); ok {
		rep.Inconclusive = true
		rep.Details = reason
		return rep
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		rep.Skipped = true
		rep.SkipReason = fmt.Sprintf("credentials rejected with HTTP %d", res.StatusCode)
		return rep
	case !res.OK():
		rep.DriftDetected = true
		rep.Details = fmt.Sprintf("authenticated request failed with HTTP %d", res.StatusCode)
		return rep
	}

	doc, err := decode(res.Body)
	if err != nil {
		rep.DriftDetected = true
		rep.Details = "response is not JSON: " + err.Error()
		return rep
	}
	return checkContract(rep, doc, p)
}

// checkContract applies the three-tier field contract to doc.
func checkContract(rep types.DriftReport, doc any, p SuccessProbe) types.DriftReport {
	var problems []string
	required := missingPaths(doc, p.Required)
	if len(required) > 0 {
		problems = append(problems, "missing required fields: "+strings.Join(required, ", "))
	}
	rep.MissingFields = append(rep.MissingFields, required...)

	if len(p.AtLeastOne) > 0 {
		items, ok := lookup(doc, p.ItemsPath)
		list, isList := items.([]any)
		switch {
		case !ok || !isList:
			problems = append(problems, fmt.Sprintf("items path %q is not a list", p.ItemsPath))
		case len(list) == 0:
			rep.Inconclusive = true
			problems = append(problems, "no items to check at_least_one fields against")
		default:
			absent := absentEverywhere(list, p.AtLeastOne)
			if len(absent) > 0 {
				problems = append(problems, fmt.Sprintf("absent on all %d items: %s", len(list), strings.Join(absent, ", ")))
				rep.MissingFields = append(rep.MissingFields, absent...)
			}
		}
	}

	rep.DriftDetected = len(rep.MissingFields) > 0 || (len(problems) > 0 && !rep.Inconclusive)
	rep.Details = strings.Join(problems, "; ")
	return rep
}

// absentEverywhere returns the fields that no item carries.
func absentEverywhere(items []any, fields []string) []string {
	var out []string
	for _, f := range fields {
		found := false
		for _, it := range items {
			if _, ok := lookup(it, f); ok {
				found = true
				break
			}
		}
		if !found {
			out = append(out, f)
		}
	}
	return out
}

// unavailable reports probes that say nothing about the contract.
func unavailable(res httputil.Result) (string, bool) {
	switch {
	case res.Outcome == httputil.OutcomeInconclusive:
		return fmt.Sprintf("rate limited after %d attempts", res.Attempts), true
	case res.StatusCode == 0:
		msg := "no response"
		if res.Err != nil {
			msg += ": " + res.Err.Error()
		}
		return msg, true
	case res.StatusCode >= 500:
		return fmt.Sprintf("provider unavailable: HTTP %d after %d attempts", res.StatusCode, res.Attempts), true
	}
	return "", false
}

func (s *Sentinel) request(ctx context.Context, p Probe) (*http.Request, error) {
	expand := func(v string) string {
		return os.Expand(v, func(name string) string { return s.Secrets[name] })
	}
	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(expand(p.Body))
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, expand(p.URL), body)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(p.Headers))
	for k := range p.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Header.Set(k, expand(p.Headers[k]))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

func decode(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// missingPaths returns the paths not present in doc.
func missingPaths(doc any, paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, ok := lookup(doc, p); !ok {
			out = append(out, p)
		}
	}
	return out
}

// lookup resolves a dotted path. Numeric segments index into lists. An
// empty path is doc itself. A key holding JSON null counts as present.
func lookup(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
