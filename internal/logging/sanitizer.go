package logging

import (
	"fmt"
	"regexp"
)

const redacted = "[REDACTED]"

// redactRule replaces matches of re. When re has a capture group the group
// survives and only the remainder is redacted, so "key=abc" becomes
// "key=[REDACTED]".
type redactRule struct {
	re *regexp.Regexp
}

func (r redactRule) apply(s string) string {
	if r.re.NumSubexp() > 0 {
		return r.re.ReplaceAllString(s, "${1}"+redacted)
	}
	return r.re.ReplaceAllString(s, redacted)
}

// builtinRules covers generative backend credentials and common secret
// shapes.
var builtinRules = compileRules(
	`AIza[a-zA-Z0-9_-]{35}`,
	`([?&](?:key|api_key|access_token)=)[^&\s"']+`,
	`(?i)(x-goog-api-key["'\s:=]+)[a-zA-Z0-9_-]{20,}`,
	`(?i)(bearer\s+)[a-zA-Z0-9._-]{20,}`,
	`sk-[A-Za-z0-9_-]{20,}`,
	`(?i)(api[_-]?key["'\s:=]+)[a-zA-Z0-9_-]{20,}`,
	`(?i)(secret["'\s:=]+)[a-zA-Z0-9_-]{20,}`,
	`(?i)(password["'\s:=]+)[^\s"']{8,}`,
)

func compileRules(patterns ...string) []redactRule {
	rules := make([]redactRule, len(patterns))
	for i, p := range patterns {
		rules[i] = redactRule{re: regexp.MustCompile(p)}
	}
	return rules
}

// inlineMedia matches the payload of a base64 data: URL. Image and video
// node outputs are carried this way and are shortened to their size.
var inlineMedia = regexp.MustCompile(`(data:[a-zA-Z0-9.+/-]+;base64,)([A-Za-z0-9+/=]{64,})`)

// Sanitizer scrubs secrets and inline media out of log text.
type Sanitizer struct {
	rules []redactRule
}

// NewSanitizer creates a sanitizer with the built-in rules.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: append([]redactRule(nil), builtinRules...)}
}

// Sanitize returns input with media elided and secrets redacted.
func (s *Sanitizer) Sanitize(input string) string {
	out := inlineMedia.ReplaceAllStringFunc(input, func(m string) string {
		sub := inlineMedia.FindStringSubmatch(m)
		return fmt.Sprintf("%s<%d bytes>", sub[1], len(sub[2]))
	})
	for _, r := range s.rules {
		out = r.apply(out)
	}
	return out
}

// AddPattern adds a rule. A pattern with a capture group keeps the group
// and redacts the rest of the match.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.rules = append(s.rules, redactRule{re: re})
	return nil
}
