package ratelimit

import (
	"fmt"
	"regexp"
)

// Pattern is a named suspicious request signature.
type Pattern struct {
	Name string
	Expr string
}

// DefaultPatterns covers path traversal, script injection, SQL injection,
// eval-style payloads and base64 blobs.
var DefaultPatterns = []Pattern{
	{Name: "path_traversal", Expr: `\.\./|\.\.\\|%2e%2e%2f`},
	{Name: "script_injection", Expr: `(?i)<\s*script|javascript:|\bon(error|load)\s*=`},
	{Name: "sql_injection", Expr: `(?i)\bunion\b[\s+]+(all[\s+]+)?\bselect\b|\bdrop[\s+]+table\b|\binsert[\s+]+into\b|'[\s+]*or[\s+]+'?1'?[\s+]*=[\s+]*'?1|\binformation_schema\b`},
	{Name: "eval_payload", Expr: `(?i)\b(eval|exec|passthru|shell_exec|system)\s*\(`},
	{Name: "base64_payload", Expr: `(?i)base64,|[A-Za-z0-9+/]{120,}={0,2}`},
}

// PatternSet is a compiled, read-only list of patterns.
type PatternSet struct {
	patterns []Pattern
	compiled []*regexp.Regexp
}

// CompilePatterns compiles ps; an invalid expression is an error.
func CompilePatterns(ps []Pattern) (*PatternSet, error) {
	set := &PatternSet{}
	for _, p := range ps {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s: %w", p.Name, err)
		}
		set.patterns = append(set.patterns, p)
		set.compiled = append(set.compiled, re)
	}
	return set, nil
}

// MustCompilePatterns is CompilePatterns for static pattern lists.
func MustCompilePatterns(ps []Pattern) *PatternSet {
	set, err := CompilePatterns(ps)
	if err != nil {
		panic(err)
	}
	return set
}

// PatternsFromExprs names each expression by its position.
func PatternsFromExprs(exprs []string) []Pattern {
	out := make([]Pattern, 0, len(exprs))
	for i, e := range exprs {
		out = append(out, Pattern{Name: fmt.Sprintf("custom_%d", i+1), Expr: e})
	}
	return out
}

// Match returns the name of the first matching pattern.
func (s *PatternSet) Match(text string) (string, bool) {
	if s == nil || text == "" {
		return "", false
	}
	for i, re := range s.compiled {
		if re.MatchString(text) {
			return s.patterns[i].Name, true
		}
	}
	return "", false
}

// Len returns the number of patterns.
func (s *PatternSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}
