// Package sanitize redacts string values in result rows with regex rules.
// Only string scalars are rewritten; numbers, booleans and nulls pass
// through. JSON documents are strings after normalization, so rules see
// their text.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rickchristie/sqlgate-mcp/internal/normalize"
)

// Rule replaces Pattern with Replacement. When Columns is non-empty the rule
// applies only to those result columns (case-insensitive).
type Rule struct {
	Pattern     string
	Replacement string
	Columns     []string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	columns     map[string]bool
}

func (r compiledRule) appliesTo(column string) bool {
	return len(r.columns) == 0 || r.columns[strings.ToLower(column)]
}

// Sanitizer applies rules in order. It is immutable and safe for concurrent
// use.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		var cols map[string]bool
		if len(r.Columns) > 0 {
			cols = make(map[string]bool, len(r.Columns))
			for _, c := range r.Columns {
				cols[strings.ToLower(strings.TrimSpace(c))] = true
			}
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement, columns: cols}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return s != nil && len(s.rules) > 0
}

// SanitizeRows rewrites string values in place and returns how many values
// changed.
func (s *Sanitizer) SanitizeRows(columns []string, rows [][]normalize.Scalar) int {
	if !s.HasRules() {
		return 0
	}
	changed := 0
	for _, row := range rows {
		for i, v := range row {
			text, ok := v.Str()
			if !ok {
				continue
			}
			out := s.sanitizeString(columns[i], text)
			if out != text {
				row[i] = normalize.String(out)
				changed++
			}
		}
	}
	return changed
}

func (s *Sanitizer) sanitizeString(column, value string) string {
	for _, rule := range s.rules {
		if rule.appliesTo(column) {
			value = rule.pattern.ReplaceAllString(value, rule.replacement)
		}
	}
	return value
}
