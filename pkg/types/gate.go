// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the plugin-e2e harness:
// gate results, the run manifest contract, and configuration.
package types

import "time"

// Outcome is the three-valued result of a gate.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Gate names, in execution order.
const (
	GateSchema      = "Schema"
	GateSearch      = "Search"
	GateAlbumSearch = "AlbumSearch"
	GateGrab        = "Grab"
	GateMetadata    = "Metadata"
	GateImportList  = "ImportList"
	GatePersistence = "Persistence"
	GateAuthFailure = "AuthFailure"
)

// DetailContainerLog is the details key holding the redacted tail of the
// host container log, attached to failed container-backed gates.
const DetailContainerLog = "containerLog"

// GateOrder lists every gate in the order the controller runs them.
var GateOrder = []string{
	GateSchema,
	GateSearch,
	GateAlbumSearch,
	GateGrab,
	GateMetadata,
	GateImportList,
	GatePersistence,
	GateAuthFailure,
}

// GateResult is the outcome of one executed gate. Build values with
// Succeeded, Failed, or Skipped so the outcome invariants hold:
// a skipped result has no errors and a reason; a failed result has at
// least one error or an error code.
type GateResult struct {
	Gate       string         `json:"gate"`
	Plugin     string         `json:"plugin"`
	Outcome    Outcome        `json:"outcome"`
	Errors     []string       `json:"errors"`
	SkipReason *string        `json:"skipReason"`
	ErrorCode  *string        `json:"errorCode"`
	Details    map[string]any `json:"details"`
	StartedAt  time.Time      `json:"startedAt"`
	EndedAt    time.Time      `json:"endedAt"`
}

// Succeeded returns a success result.
func Succeeded(gate, plugin string, details map[string]any) GateResult {
	return GateResult{
		Gate:    gate,
		Plugin:  plugin,
		Outcome: OutcomeSuccess,
		Errors:  []string{},
		Details: orEmpty(details),
	}
}

// Failed returns a failed result. When both code and errs are empty a
// generic error line is added so the result still carries a diagnostic.
func Failed(gate, plugin, code string, errs []string, details map[string]any) GateResult {
	r := GateResult{
		Gate:    gate,
		Plugin:  plugin,
		Outcome: OutcomeFailed,
		Errors:  append([]string{}, errs...),
		Details: orEmpty(details),
	}
	if code != "" {
		r.ErrorCode = &code
	}
	if len(r.Errors) == 0 && r.ErrorCode == nil {
		r.Errors = []string{gate + " failed without a diagnostic"}
	}
	return r
}

// Skipped returns a skipped result. An empty reason is replaced with a
// placeholder because skipReason must never be null on a skip.
func Skipped(gate, plugin, reason string, details map[string]any) GateResult {
	if reason == "" {
		reason = "skipped"
	}
	return GateResult{
		Gate:       gate,
		Plugin:     plugin,
		Outcome:    OutcomeSkipped,
		Errors:     []string{},
		SkipReason: &reason,
		Details:    orEmpty(details),
	}
}

// WithCode returns a copy of r carrying code. It does not change the outcome.
func (r GateResult) WithCode(code string) GateResult {
	if code != "" {
		r.ErrorCode = &code
	}
	return r
}

// Code returns the error code or "" if unset.
func (r GateResult) Code() string {
	if r.ErrorCode == nil {
		return ""
	}
	return *r.ErrorCode
}

// Reason returns the skip reason or "" if unset.
func (r GateResult) Reason() string {
	if r.SkipReason == nil {
		return ""
	}
	return *r.SkipReason
}

// Duration is the wall time between StartedAt and EndedAt.
func (r GateResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
