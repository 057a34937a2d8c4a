// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunManifest is the versioned JSON contract consumed by CI. Field names
// and nesting are a compatibility surface: within a major schemaVersion
// only additive changes are allowed.
type RunManifest struct {
	SchemaVersion     string           `json:"schemaVersion"`
	SchemaURL         string           `json:"schemaUrl"`
	RunID             string           `json:"runId"`
	GeneratedAt       time.Time        `json:"generatedAt"`
	Results           []GateResult     `json:"results"`
	Summary           Summary          `json:"summary"`
	HostBugSuspected  HostBugSuspicion `json:"hostBugSuspected"`
	Sources           map[string]any   `json:"sources"`
	Request           map[string]any   `json:"request"`
	Effective         map[string]any   `json:"effective"`
	Redaction         RedactionReport  `json:"redaction"`
	ClassifierVersion string           `json:"classifierVersion"`
	Drift             []DriftReport    `json:"drift,omitempty"`
}

// Summary holds the outcome counts. Passed+Failed+Skipped always equals Total.
type Summary struct {
	Total          int  `json:"total"`
	Passed         int  `json:"passed"`
	Failed         int  `json:"failed"`
	Skipped        int  `json:"skipped"`
	OverallSuccess bool `json:"overallSuccess"`
}

// HostBugSuspicion is the best-effort guess that a failure originates in
// the host application rather than the plugin.
type HostBugSuspicion struct {
	Detected bool   `json:"detected"`
	Tier     string `json:"tier,omitempty"`
	Gate     string `json:"gate,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

// RedactionReport records whether the redaction self-test ran before the
// manifest was written.
type RedactionReport struct {
	SelfTestExecuted bool `json:"selfTestExecuted"`
	SelfTestPassed   bool `json:"selfTestPassed"`
	PatternsCount    int  `json:"patternsCount"`
}

// DriftMode is the probe mode used by the drift sentinel.
type DriftMode string

const (
	DriftModeError   DriftMode = "error"
	DriftModeSuccess DriftMode = "success"
)

// DriftReport is the result of one drift probe against one provider.
type DriftReport struct {
	Provider      string    `json:"provider"`
	Mode          DriftMode `json:"mode"`
	Skipped       bool      `json:"skipped"`
	SkipReason    string    `json:"skipReason,omitempty"`
	DriftDetected bool      `json:"driftDetected"`
	Inconclusive  bool      `json:"inconclusive"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Details       string    `json:"details,omitempty"`
	MissingFields []string  `json:"missingFields,omitempty"`
}
