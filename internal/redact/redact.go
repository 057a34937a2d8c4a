// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package redact scrubs secrets and private endpoints from text, URLs, and
// object graphs before they reach a log line, an error array, or a manifest.
//
// Every function is pure and idempotent: applying it twice yields the same
// result as applying it once. Rules run in a fixed order; key-based rules
// (headers, query parameters, JSON keys) run before shape-based rules
// (JWTs, blobs, addresses), and allow-listed public identifiers are shielded
// from the shape-based rules only.
package redact

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// PatternsVersion changes whenever a rule is added, removed, or reordered.
const PatternsVersion = "2026.10.1"

// Replacement markers.
const (
	Marker          = "[REDACTED]"
	PrivateIPMarker = "[PRIVATE-IP]"
	LocalhostMarker = "[LOCALHOST]"
)

type rule struct {
	name string
	re   *regexp.Regexp
	repl string
	// keep, when set, reports whether a match must be left untouched.
	keep func(match string) bool
}

// keyRules redact by name: the value next to a known-sensitive key is
// replaced regardless of its shape.
var keyRules = []rule{
	{
		name: "authorization_header",
		re:   regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)((?:bearer|basic|token|digest)\s+)?[^\s,;"']+`),
		repl: "${1}${2}" + Marker,
	},
	{
		name: "api_key_header",
		re:   regexp.MustCompile(`(?i)(x-api-key\s*[:=]\s*)[^\s,;"']+`),
		repl: "${1}" + Marker,
	},
	{
		name: "bearer_token",
		re:   regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9\-._~+/]+=*`),
		repl: "${1}" + Marker,
	},
	{
		name: "userinfo",
		re:   regexp.MustCompile(`(://)[^/\s:@\[]+:[^/\s@]+@`),
		repl: "${1}" + Marker + "@",
	},
	{
		name: "json_secret",
		re:   regexp.MustCompile(`(?i)("(?:api[_-]?key|password|passwd|secret|token|access[_-]?token|refresh[_-]?token|client[_-]?secret|id[_-]?token)"\s*:\s*")[^"]*(")`),
		repl: "${1}" + Marker + "${2}",
	},
	{
		name: "query_param",
		re:   regexp.MustCompile(`(?i)((?:^|[?&;,\s"'{(])(?:api[_-]?key|access[_-]?token|refresh[_-]?token|client[_-]?secret|id[_-]?token|password|passwd|secret|token|key|auth|sig|signature)\s*=\s*)[^&\s#"',;)]+`),
		repl: "${1}" + Marker,
	},
	{
		name: "oauth_code",
		re:   regexp.MustCompile(`(?i)([?&]code=)[^&\s#"']+`),
		repl: "${1}" + Marker,
	},
	{
		name: "colon_secret",
		re:   regexp.MustCompile(`(?i)\b((?:password|passwd|client[_-]?secret|api[_-]?key|refresh[_-]?token)\s*:\s*)[^\s,;"'}]+`),
		repl: "${1}" + Marker,
	},
}

// shapeRules redact by appearance.
var shapeRules = []rule{
	{
		name: "jwt",
		re:   regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`),
		repl: Marker,
	},
	{
		name: "url_blob",
		re:   regexp.MustCompile(`([/=:])([A-Fa-f0-9]{32,}|[A-Za-z0-9+_-]{40,}={0,2})`),
		repl: "${1}" + Marker,
		keep: func(m string) bool { return !mixedAlnum(m[1:]) },
	},
}

// allowRules match public identifiers that must survive shape-based rules.
var allowRules = []*regexp.Regexp{
	// MusicBrainz and other UUID-shaped public ids.
	regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
	// ISRC and catalog codes such as "USRC17607839" or "CAT-00123".
	regexp.MustCompile(`\b[A-Z]{2}[A-Z0-9]{3}\d{7}\b`),
	regexp.MustCompile(`\b[A-Z]{2,6}-\d{3,8}\b`),
}

var (
	ipv4Re      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Re      = regexp.MustCompile(`(?i)\[?[0-9a-f]{0,4}(?::[0-9a-f]{0,4}){2,7}(?:%[0-9a-z]+)?\]?`)
	localhostRe = regexp.MustCompile(`(?i)\blocalhost\b`)
)

// PatternCount is the number of rules applied by Text, including the
// address rules.
func PatternCount() int {
	return len(keyRules) + len(shapeRules) + 3
}

// maxPasses bounds the fixed-point loop in Text. Each pass only replaces
// non-marker text with markers, so real input settles in two or three.
const maxPasses = 8

// Text redacts a free-text string. Rules are applied until the text stops
// changing, which makes Text idempotent even when one replacement exposes a
// match for an earlier rule (an IPv6 loopback glued to a dotted quad, say).
func Text(s string) string {
	for i := 0; i < maxPasses; i++ {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

func pass(s string) string {
	if s == "" {
		return s
	}
	for _, r := range keyRules {
		s = r.apply(s)
	}

	s, shielded := shield(s)
	for _, r := range shapeRules {
		s = r.apply(s)
	}
	s = redactIPv4(s)
	s = redactIPv6(s)
	s = redactLocalhost(s)
	return unshield(s, shielded)
}

// URL redacts a URL string. Sensitive query parameter values are replaced,
// userinfo is removed, and private hosts become markers.
func URL(raw string) string {
	return Text(raw)
}

// PathAndQuery returns only the path and query of raw, redacted. It is the
// form used for endpoint fields in structured diagnostics.
func PathAndQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Text(stripAuthority(raw))
	}
	out := u.EscapedPath()
	if out == "" {
		out = "/"
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return Text(out)
}

// stripAuthority drops the scheme and host of an unparseable URL, keeping
// everything from the first path slash.
func stripAuthority(raw string) string {
	if _, rest, ok := strings.Cut(raw, "://"); ok {
		raw = rest
	} else if strings.HasPrefix(raw, "/") {
		return raw
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		return raw[i:]
	}
	return "/"
}

// Strings redacts each element of ss into a new slice.
func Strings(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Text(s)
	}
	return out
}

func (r rule) apply(s string) string {
	if r.keep == nil {
		return r.re.ReplaceAllString(s, r.repl)
	}
	return r.re.ReplaceAllStringFunc(s, func(m string) string {
		if r.keep(m) {
			return m
		}
		return r.re.ReplaceAllString(m, r.repl)
	})
}

// mixedAlnum reports whether s holds both a letter and a digit. Long runs of
// plain words (slugs, component names) are not secrets.
func mixedAlnum(s string) bool {
	var letter, digit bool
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digit = true
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			letter = true
		}
	}
	return letter && digit
}

// shield swaps allow-listed identifiers for placeholders that no rule matches.
func shield(s string) (string, []string) {
	var saved []string
	for _, re := range allowRules {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			saved = append(saved, m)
			return "\x00" + strconv.Itoa(len(saved)-1) + "\x00"
		})
	}
	return s, saved
}

func unshield(s string, saved []string) string {
	for i := len(saved) - 1; i >= 0; i-- {
		s = strings.Replace(s, "\x00"+strconv.Itoa(i)+"\x00", saved[i], 1)
	}
	return s
}

func redactIPv4(s string) string {
	return ipv4Re.ReplaceAllStringFunc(s, func(m string) string {
		return addressMarker(net.ParseIP(m), m)
	})
}

func redactIPv6(s string) string {
	return ipv6Re.ReplaceAllStringFunc(s, func(m string) string {
		host := strings.TrimSuffix(strings.TrimPrefix(m, "["), "]")
		if i := strings.IndexByte(host, '%'); i >= 0 {
			host = host[:i]
		}
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() != nil {
			return m
		}
		return addressMarker(ip, m)
	})
}

func redactLocalhost(s string) string {
	idx := localhostRe.FindAllStringIndex(s, -1)
	if len(idx) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range idx {
		// Already a marker.
		if s[loc[0]:loc[1]] == "LOCALHOST" && loc[0] > 0 && s[loc[0]-1] == '[' && loc[1] < len(s) && s[loc[1]] == ']' {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(LocalhostMarker)
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// addressMarker maps non-public addresses to a marker and returns orig for
// public or unparsable input.
func addressMarker(ip net.IP, orig string) string {
	switch {
	case ip == nil:
		return orig
	case ip.IsLoopback():
		return LocalhostMarker
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return PrivateIPMarker
	}
	return orig
}
