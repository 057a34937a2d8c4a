// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package errcode

import "strings"

// Host defect tiers.
const (
	TierTypeInit        = "type_init"
	TierABI             = "abi"
	TierDependencyDrift = "dependency_drift"
	TierAssembly        = "assembly"
	TierLoadFailure     = "load_failure"
)

var hostDefectRules = []Rule{
	r(`(?i)TypeInitializationException|type initializer for .* threw`, TierTypeInit),
	r(`(?i)MissingMethodException|MissingFieldException|EntryPointNotFoundException|method not found:`, TierABI),
	r(`(?i)manifest definition does not match|\bTypeLoadException|FileLoadException|assembly version mismatch`, TierDependencyDrift),
	r(`(?i)could not load (file or )?assembly|assembly .* (could not be found|not found)`, TierAssembly),
	r(`(?i)ReflectionTypeLoadException|BadImageFormatException|failed to load plugin|plugin .* failed to load`, TierLoadFailure),
}

// HostDefectRules returns a copy of the host defect table in resolution order.
func HostDefectRules() []Rule { return append([]Rule(nil), hostDefectRules...) }

// HostDefect scans texts in order and returns the tier of the first text
// matching a host defect pattern, the matched excerpt, and the index of the
// text that matched. ok is false when no text matches.
func HostDefect(texts []string) (tier, evidence string, index int, ok bool) {
	for i, text := range texts {
		for _, rule := range hostDefectRules {
			loc := rule.Pattern.FindStringIndex(text)
			if loc == nil {
				continue
			}
			return rule.Result, excerpt(text, loc[0], loc[1]), i, true
		}
	}
	return "", "", -1, false
}

// excerpt returns the match with a little surrounding context, on one line.
func excerpt(s string, start, end int) string {
	const context = 60
	from := max(0, start-context)
	to := min(len(s), end+context)
	return strings.Join(strings.Fields(s[from:to]), " ")
}
