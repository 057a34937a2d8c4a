// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package manifest turns gate results and run context into the versioned
// JSON document CI consumes.
//
// Every string leaving Build has been through redact. Values under
// sensitive field names are removed outright, not masked, so a consumer
// never sees that a secret key was present.
package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// SchemaVersion is the manifest contract version. Within a major version
// only additive changes are allowed.
const SchemaVersion = "1.2.0"

// SchemaURL locates the JSON schema for SchemaVersion.
const SchemaURL = "https://github.com/pdiddy/plugin-e2e/blob/main/schemas/manifest-" + SchemaVersion + ".json"

// Context is everything besides the gate results that goes into a manifest.
type Context struct {
	// RunID is used verbatim when set. Otherwise a random UUID is assigned.
	RunID string

	// Sources records where each setting came from (flag, env, file).
	Sources map[string]any

	// Request is the run as asked for; Effective is the run after defaults.
	Request   map[string]any
	Effective map[string]any

	Drift []types.DriftReport

	// Now stamps generatedAt. Nil means time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Build assembles a manifest. The results keep their order.
func Build(results []types.GateResult, c Context) types.RunManifest {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	runID := c.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	passed, failures := redact.SelfTest()
	if !passed {
		logger.Error("redaction self-test failed", "failures", len(failures))
		for _, f := range failures {
			logger.Debug("redaction self-test", "failure", f)
		}
	}

	clean := make([]types.GateResult, len(results))
	for i, r := range results {
		clean[i] = scrubResult(r)
	}

	drift := make([]types.DriftReport, len(c.Drift))
	for i, d := range c.Drift {
		d.Details = redact.Text(d.Details)
		d.SkipReason = redact.Text(d.SkipReason)
		drift[i] = d
	}
	if len(drift) == 0 {
		drift = nil
	}

	return types.RunManifest{
		SchemaVersion:    SchemaVersion,
		SchemaURL:        SchemaURL,
		RunID:            runID,
		GeneratedAt:      now().UTC(),
		Results:          clean,
		Summary:          Summarize(clean),
		HostBugSuspected: DetectHostBug(clean),
		Sources:          StripMap(c.Sources),
		Request:          StripMap(c.Request),
		Effective:        StripMap(c.Effective),
		Redaction: types.RedactionReport{
			SelfTestExecuted: true,
			SelfTestPassed:   passed,
			PatternsCount:    redact.PatternCount(),
		},
		ClassifierVersion: errcode.PatternTableVersion,
		Drift:             drift,
	}
}

// Summarize counts outcomes. OverallSuccess is false iff any result failed.
func Summarize(results []types.GateResult) types.Summary {
	s := types.Summary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case types.OutcomeSuccess:
			s.Passed++
		case types.OutcomeSkipped:
			s.Skipped++
		default:
			// Anything unrecognized counts against the run.
			s.Failed++
		}
	}
	s.OverallSuccess = s.Failed == 0
	return s
}

// DetectHostBug scans error text, skip reasons and collected container
// log lines, gate by gate, for signs that the host rather than the plugin
// is broken. The first match wins.
func DetectHostBug(results []types.GateResult) types.HostBugSuspicion {
	var texts, gates []string
	for _, r := range results {
		for _, e := range r.Errors {
			texts = append(texts, e)
			gates = append(gates, r.Gate)
		}
		if reason := r.Reason(); reason != "" {
			texts = append(texts, reason)
			gates = append(gates, r.Gate)
		}
		for _, line := range containerLog(r.Details) {
			texts = append(texts, line)
			gates = append(gates, r.Gate)
		}
	}
	tier, evidence, i, ok := errcode.HostDefect(texts)
	if !ok {
		return types.HostBugSuspicion{}
	}
	return types.HostBugSuspicion{
		Detected: true,
		Tier:     tier,
		Gate:     gates[i],
		Evidence: redact.Text(evidence),
	}
}

// containerLog returns the container log lines held in details, in
// either their in-process or JSON-decoded form.
func containerLog(details map[string]any) []string {
	switch v := details[types.DetailContainerLog].(type) {
	case []string:
		return v
	case []any:
		lines := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				lines = append(lines, s)
			}
		}
		return lines
	}
	return nil
}

func scrubResult(r types.GateResult) types.GateResult {
	out := r
	out.Errors = redact.Strings(r.Errors)
	if out.Errors == nil {
		out.Errors = []string{}
	}
	if r.SkipReason != nil {
		reason := redact.Text(*r.SkipReason)
		out.SkipReason = &reason
	}
	out.Details = StripMap(r.Details)
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	return out
}

// StripMap returns a redacted deep copy of m with every sensitive key
// removed at any depth.
func StripMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := Strip(m).(map[string]any)
	return out
}

// Strip returns a redacted deep copy of v with every sensitive key removed
// at any depth. Structs come back in their JSON map form.
func Strip(v any) any {
	return strip(redact.Value(v))
}

func strip(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if redact.IsSensitiveKey(k) {
				continue
			}
			out[k] = strip(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = strip(val)
		}
		return out
	}
	return v
}

// Write stores m at path as indented JSON. It writes a temporary file in
// the same directory and renames it into place, so readers never see a
// partial manifest.
func Write(path string, m types.RunManifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("renaming manifest into place: %w", err)
	}
	return nil
}

// Read loads a manifest written by Write.
func Read(path string) (types.RunManifest, error) {
	var m types.RunManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}
