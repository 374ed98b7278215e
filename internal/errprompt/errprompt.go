// Package errprompt attaches guidance to failed requests. Each rule pairs a
// regular expression over the error text with a message telling the agent
// what to do next.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// Rule maps an error pattern to guidance.
type Rule struct {
	Pattern string
	Message string
}

// DefaultRules cover the failures agents hit most often. They are used when
// no rules are configured.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `(?i)relation .* does not exist`, Message: "The table does not exist or is not visible. Use list_tables to see available tables; quoted names are case-sensitive."},
		{Pattern: `(?i)column .* does not exist`, Message: "Use describe_table to see the columns of the table."},
		{Pattern: `(?i)permission denied`, Message: "The database account cannot read this object. Ask the user to grant SELECT or pick another table."},
		{Pattern: `(?i)canceling statement due to statement timeout|statement exceeded its deadline`, Message: "Narrow the query with a WHERE clause or a smaller LIMIT, or check the plan with explain_query."},
		{Pattern: `(?i)forbidden operation|only SELECT statements are allowed`, Message: "Only SELECT, WITH, DESCRIBE and EXPLAIN statements are accepted."},
		{Pattern: `(?i)access to table .* is not allowed`, Message: "The table is outside the configured whitelist. Use list_tables to see the tables you may query."},
		{Pattern: `(?i)no session available`, Message: "All database sessions are busy. Retry shortly."},
	}
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance prompts.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks errMsg against all rules, top to bottom, and returns the
// messages of every matching rule joined by newlines.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the patterns that matched errMsg, for logging.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}

// Annotate appends matching guidance to e.Hint, after any hint the database
// already supplied.
func (m *Matcher) Annotate(e *errs.Error) {
	if m == nil || e == nil {
		return
	}
	prompt := m.Match(e.Error())
	if prompt == "" {
		return
	}
	if e.Hint == "" {
		e.Hint = prompt
		return
	}
	e.Hint += "\n" + prompt
}
