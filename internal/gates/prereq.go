// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"sort"
	"strings"

	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// Prereq is the credential precondition of a gate: every AllOf field must
// be set, and when AnyOf is non-empty at least one of its groups must have
// every field set.
type Prereq struct {
	AllOf []string
	AnyOf [][]string
}

// PrereqFrom builds the precondition configured for credentialed gates.
func PrereqFrom(cfg types.GatesConfig) Prereq {
	return Prereq{AllOf: cfg.RequiredFields, AnyOf: cfg.AlternativeFields}
}

// Check is the evaluation of a Prereq.
type Check struct {
	Satisfied bool

	// Missing lists unset AllOf fields.
	Missing []string

	// Groups lists, for an unsatisfied AnyOf, the unset fields of each group.
	Groups [][]string
}

// Evaluate checks fields against p. Field names match case-insensitively
// and a value of only whitespace counts as unset.
func (p Prereq) Evaluate(fields map[string]string) Check {
	set := make(map[string]bool, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) != "" {
			set[strings.ToLower(k)] = true
		}
	}
	missingOf := func(names []string) []string {
		var out []string
		for _, n := range names {
			if !set[strings.ToLower(n)] {
				out = append(out, n)
			}
		}
		return out
	}

	c := Check{Missing: missingOf(p.AllOf)}
	anyOK := len(p.AnyOf) == 0
	if !anyOK {
		for _, group := range p.AnyOf {
			m := missingOf(group)
			if len(m) == 0 {
				anyOK = true
				c.Groups = nil
				break
			}
			c.Groups = append(c.Groups, m)
		}
	}
	c.Satisfied = len(c.Missing) == 0 && anyOK
	return c
}

// Reason names what is missing, for use as a skip reason.
func (c Check) Reason() string {
	if c.Satisfied {
		return ""
	}
	var parts []string
	if len(c.Missing) > 0 {
		m := append([]string(nil), c.Missing...)
		sort.Strings(m)
		parts = append(parts, "missing required fields: "+strings.Join(m, ", "))
	}
	if len(c.Groups) > 0 {
		alts := make([]string, len(c.Groups))
		for i, g := range c.Groups {
			alts[i] = strings.Join(g, "+")
		}
		parts = append(parts, "no complete credential group (missing "+strings.Join(alts, " | ")+")")
	}
	return strings.Join(parts, "; ")
}

// Details returns the check as a details-map value. Only field names are
// included, never values.
func (c Check) Details() map[string]any {
	d := map[string]any{"satisfied": c.Satisfied}
	if len(c.Missing) > 0 {
		d["missingFields"] = c.Missing
	}
	if len(c.Groups) > 0 {
		d["missingGroups"] = c.Groups
	}
	return d
}
