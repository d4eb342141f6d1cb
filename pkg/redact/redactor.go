package redact

import (
	"regexp"
)

// Rule defines a single redaction pattern.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Redactor scrubs credentials out of engine trace lines before they reach
// disk. Hooked calls log their arguments verbatim, so environment strings,
// command lines and URLs pass through here.
type Redactor struct {
	rules   []Rule
	enabled bool
}

// New creates a Redactor with built-in rules. If enabled is false, Redact is
// a no-op.
func New(enabled bool, extraRules []Rule) *Redactor {
	r := &Redactor{enabled: enabled}
	if !enabled {
		return r
	}
	r.rules = builtinRules()
	r.rules = append(r.rules, extraRules...)
	return r
}

// Redact returns line with every rule applied. The input is not modified.
func (r *Redactor) Redact(line []byte) []byte {
	if r == nil || !r.enabled || len(r.rules) == 0 {
		return line
	}
	out := line
	for _, rule := range r.rules {
		out = rule.Pattern.ReplaceAll(out, []byte(rule.Replacement))
	}
	return out
}

// RedactString is Redact for strings.
func (r *Redactor) RedactString(s string) string {
	return string(r.Redact([]byte(s)))
}

func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "url_userinfo",
			Pattern:     regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s:@]+:[^/\s@]+@`),
			Replacement: "${1}[REDACTED]@",
		},
		{
			Name:        "authorization_header",
			Pattern:     regexp.MustCompile(`(?i)((?:proxy-)?authorization\s*[:=]\s*)\S+(\s+[^\s)]+)?`),
			Replacement: "${1}[REDACTED]",
		},
		{
			Name:        "cookie_header",
			Pattern:     regexp.MustCompile(`(?i)((?:set-)?cookie\s*:\s*)[^\r\n]+`),
			Replacement: "${1}[REDACTED]",
		},
		{
			Name:        "secret_param",
			Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api_key|apikey)\s*[=:]\s*['"]?[^\s&,;'")]+`),
			Replacement: "${1}=[REDACTED]",
		},
		{
			Name:        "credit_card",
			Pattern:     regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
			Replacement: "[REDACTED_CC]",
		},
	}
}
