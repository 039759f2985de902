package logwriter

import (
	"fmt"
	"regexp"

	"github.com/sysg-dev/sysg/internal/config"
)

// Redactor scrubs matched substrings from captured log lines before they
// are appended to disk. Opt-in per service (supplemented feature, not in
// spec.md's core, grounded on the teacher's redaction pass which the
// teacher itself labels compliance-critical).
type Redactor struct {
	patterns []compiledPattern
}

type compiledPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor compiles a service's redaction patterns. A nil/empty list
// yields a Redactor whose Redact is a no-op.
func NewRedactor(patterns []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile redaction pattern %q: %w", p.Pattern, err)
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "***"
		}
		r.patterns = append(r.patterns, compiledPattern{regex: re, replacement: replacement})
	}
	return r, nil
}

// Redact applies every configured pattern in order.
func (r *Redactor) Redact(line string) string {
	if r == nil {
		return line
	}
	for _, p := range r.patterns {
		line = p.regex.ReplaceAllString(line, p.replacement)
	}
	return line
}
