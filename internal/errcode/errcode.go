// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package errcode maps free-text error and skip messages to the canonical
// E2E error-code taxonomy, decides whether a message describes a missing
// credential prerequisite, and flags errors that point at a host defect.
//
// All three classifiers are ordered pattern tables with one resolution
// rule: the first matching pattern wins. The tables live only here so
// every call site classifies the same text the same way.
package errcode

import "regexp"

// PatternTableVersion changes whenever any table in this package is edited.
const PatternTableVersion = "2026.10.1"

// Canonical error codes.
const (
	AuthMissing                 = "E2E_AUTH_MISSING"
	ConfigInvalid               = "E2E_CONFIG_INVALID"
	APITimeout                  = "E2E_API_TIMEOUT"
	HostUnreachable             = "E2E_LIDARR_UNREACHABLE"
	DockerUnavailable           = "E2E_DOCKER_UNAVAILABLE"
	SchemaMissingImplementation = "E2E_SCHEMA_MISSING_IMPLEMENTATION"
	HostPluginDiscoveryDisabled = "E2E_HOST_PLUGIN_DISCOVERY_DISABLED"
	NoReleasesAttributed        = "E2E_NO_RELEASES_ATTRIBUTED"
	QueueNotFound               = "E2E_QUEUE_NOT_FOUND"
	ZeroAudioFiles              = "E2E_ZERO_AUDIO_FILES"
	MetadataMissing             = "E2E_METADATA_MISSING"
	ImportFailed                = "E2E_IMPORT_FAILED"
	ComponentAmbiguous          = "E2E_COMPONENT_AMBIGUOUS"
	ProviderUnavailable         = "E2E_PROVIDER_UNAVAILABLE"
	AbstractionsSHAMismatch     = "E2E_ABSTRACTIONS_SHA_MISMATCH"
	InternalError               = "E2E_INTERNAL_ERROR"
)

// Rule pairs a pattern with the value it classifies to.
type Rule struct {
	Pattern *regexp.Regexp
	Result  string
}

func r(pattern, result string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Result: result}
}

// codeRules is ordered from most to least specific. Domain codes come
// before transport codes: a queue wait that timed out reports
// QueueNotFound when the message names the queue.
var codeRules = []Rule{
	r(`(?i)abstractions?\b.*\b(sha|hash)\b.*mismatch|\bsha mismatch\b`, AbstractionsSHAMismatch),
	r(`(?i)plugin (discovery|loading) (is )?disabled|no plugin implementations`, HostPluginDiscoveryDisabled),
	r(`(?i)(multiple|\d+) (components|implementations) match|\bambiguous\b`, ComponentAmbiguous),
	r(`(?i)implementation .*not (found|registered) in (the )?schema|schema (is )?missing|missing implementation`, SchemaMissingImplementation),
	r(`(?i)\b(zero|no|0) releases? (were )?(attributed|from (this|the target) indexer)`, NoReleasesAttributed),
	r(`(?i)(not|never) (found|appeared|seen) in (the )?queue|queue item not found`, QueueNotFound),
	r(`(?i)\b(zero|no|0) audio files\b`, ZeroAudioFiles),
	r(`(?i)metadata (is )?missing|missing (tags|metadata)`, MetadataMissing),
	r(`(?i)import(list)? ?(list )?(sync )?failed|import of .* failed`, ImportFailed),
	r(`(?i)timed? ?out|deadline exceeded`, APITimeout),
	r(`(?i)cannot connect to the (docker|podman) daemon|docker daemon|(docker|podman) (is not running|not found|unavailable)|no container runtime|container runtime (is )?(unavailable|not available)`, DockerUnavailable),
	r(`(?i)connection refused|no such host|(host|network) (is )?unreachable|lidarr (is )?unreachable|dial tcp`, HostUnreachable),
	r(`(?i)provider (is )?unavailable|service unavailable|bad gateway|\b50[23]\b`, ProviderUnavailable),
	r(`(?i)unauthori[sz]ed|forbidden|\b40[13]\b|invalid_grant|invalid_client|\boauth|credentials?\b|\btoken (is )?(expired|invalid|missing|revoked)|missing (api[ _]?)?key`, AuthMissing),
	r(`(?i)invalid (config|configuration|setting)|config(uration)? (is )?invalid|validation failed|must not be empty|is required`, ConfigInvalid),
	r(`(?i)panic|nil pointer|internal error`, InternalError),
}

// credentialRules decide whether a message means the environment lacks
// working credentials. A match turns a would-be failure into a skip.
var credentialRules = []Rule{
	r(`(?i)\binvalid_grant\b`, "invalid_grant"),
	r(`(?i)\binvalid_client\b`, "invalid_client"),
	r(`(?i)\boauth\w*`, "oauth"),
	r(`(?i)\b401\b|unauthori[sz]ed`, "401"),
	r(`(?i)\b403\b|\bforbidden\b`, "403"),
	r(`(?i)\bcredentials?\b`, "credential"),
	r(`(?i)\b(access|refresh|api|auth)?[ _-]?token\b`, "token"),
}

// Rules returns a copy of the error-code table in resolution order.
func Rules() []Rule { return append([]Rule(nil), codeRules...) }

// CredentialRules returns a copy of the credential table in resolution order.
func CredentialRules() []Rule { return append([]Rule(nil), credentialRules...) }

func firstMatch(rules []Rule, msg string) (string, bool) {
	for _, rule := range rules {
		if rule.Pattern.MatchString(msg) {
			return rule.Result, true
		}
	}
	return "", false
}

// Classify returns the canonical code for msg, or "" when nothing matches.
func Classify(msg string) string {
	code, _ := firstMatch(codeRules, msg)
	return code
}

// IsCredentialPrerequisite reports whether msg describes missing or
// rejected credentials rather than a defect in the plugin.
func IsCredentialPrerequisite(msg string) bool {
	_, ok := firstMatch(credentialRules, msg)
	return ok
}

// CredentialSignal returns which credential pattern matched msg, or "".
func CredentialSignal(msg string) string {
	s, _ := firstMatch(credentialRules, msg)
	return s
}

// Resolve picks the error code for a gate outcome. Precedence is fixed:
// an explicit code set by the gate wins; otherwise a credential match
// yields AuthMissing; otherwise the generic table decides.
func Resolve(explicit string, msgs ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, m := range msgs {
		if IsCredentialPrerequisite(m) {
			return AuthMissing
		}
	}
	for _, m := range msgs {
		if code := Classify(m); code != "" {
			return code
		}
	}
	return ""
}
