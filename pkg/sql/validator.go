// Package sql provides the deterministic, regex/string-scan based safety
// validator that is the sole authority deciding whether a candidate SQL
// statement may run. It never parses an AST; the allowlist + SELECT-only +
// no-semicolon combination is what contains the blast radius.
package sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultLimit is appended to any statement that has no LIMIT clause.
const DefaultLimit = 200

// DefaultAllowedTables is the table allowlist used when no override is
// configured.
var DefaultAllowedTables = []string{"sales_fact", "job_runs", "audit_log"}

// BlockedKeywords may never appear as a whole word in a candidate statement.
var BlockedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER",
	"TRUNCATE", "GRANT", "REVOKE", "COPY",
}

// rawSQLVerbs is used by IsRawSQL to classify caller input as SQL text
// rather than a natural-language question.
var rawSQLVerbs = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE",
	"ALTER", "TRUNCATE", "GRANT", "REVOKE", "WITH", "COPY",
}

var (
	limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	fromPattern  = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	joinPattern  = regexp.MustCompile(`(?i)\bJOIN\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// SafetyError is raised by Validate when a candidate statement fails any
// gate. It never triggers a retry: the caller must change the query.
type SafetyError struct {
	Reason string
}

func (e *SafetyError) Error() string { return e.Reason }

func safetyErrorf(format string, args ...any) *SafetyError {
	return &SafetyError{Reason: fmt.Sprintf(format, args...)}
}

// Validator applies the five safety gates in a fixed order, short-
// circuiting on first failure.
type Validator struct {
	allowedTables map[string]struct{}
	defaultLimit  int
}

// Option configures a Validator at construction time.
type Option func(*Validator)

// WithAllowedTables overrides the default table allowlist.
func WithAllowedTables(tables []string) Option {
	return func(v *Validator) {
		v.allowedTables = toSet(tables)
	}
}

// WithDefaultLimit overrides the row limit injected when a query has none.
func WithDefaultLimit(limit int) Option {
	return func(v *Validator) { v.defaultLimit = limit }
}

// NewValidator builds a Validator with the given options applied over the
// package defaults.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		allowedTables: toSet(DefaultAllowedTables),
		defaultLimit:  DefaultLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = struct{}{}
	}
	return set
}

// IsRawSQL reports whether query looks like SQL text (as opposed to a
// natural-language question) by checking whether its trimmed, upper-cased
// form starts with a recognized SQL verb. This includes both valid
// (SELECT) and invalid (DROP, INSERT, ...) verbs so that dangerous raw SQL
// is routed straight into the validator rather than being misclassified
// as a planning request.
func IsRawSQL(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, verb := range rawSQLVerbs {
		if strings.HasPrefix(upper, verb) {
			return true
		}
	}
	return false
}

// Validate runs the five safety gates against sqlQuery and returns the
// sanitized statement (with a LIMIT appended if one was absent) or a
// *SafetyError.
func (v *Validator) Validate(sqlQuery string) (string, error) {
	normalized := strings.TrimSpace(sqlQuery)
	upper := strings.ToUpper(normalized)

	// Gate 1: shape — must be a SELECT.
	if !strings.HasPrefix(upper, "SELECT") {
		return "", safetyErrorf("only SELECT statements are allowed")
	}

	// Gate 2: statement boundary — no semicolons anywhere.
	if strings.Contains(normalized, ";") {
		return "", safetyErrorf("semicolons are not allowed")
	}

	// Gate 3: keyword blocklist, whole-word match.
	for _, keyword := range BlockedKeywords {
		if wordPresent(upper, keyword) {
			return "", safetyErrorf("keyword %q is not allowed", keyword)
		}
	}

	// Gate 4: limit enforcement. The sole rewrite this validator performs.
	sanitized := normalized
	if !limitPattern.MatchString(upper) {
		sanitized = fmt.Sprintf("%s LIMIT %d", sanitized, v.defaultLimit)
	}

	// Gate 5: table allowlist, checked against FROM/JOIN targets.
	if err := v.checkTableAllowlist(upper); err != nil {
		return "", err
	}

	return sanitized, nil
}

func (v *Validator) checkTableAllowlist(upper string) error {
	tables := make(map[string]struct{})
	for _, m := range fromPattern.FindAllStringSubmatch(upper, -1) {
		tables[strings.ToLower(m[1])] = struct{}{}
	}
	for _, m := range joinPattern.FindAllStringSubmatch(upper, -1) {
		tables[strings.ToLower(m[1])] = struct{}{}
	}
	for table := range tables {
		if _, ok := v.allowedTables[table]; !ok {
			return safetyErrorf("table %q is not in the allowlist", table)
		}
	}
	return nil
}

func wordPresent(haystack, word string) bool {
	pattern := `\b` + regexp.QuoteMeta(word) + `\b`
	matched, _ := regexp.MatchString(pattern, haystack)
	return matched
}

// ExtractLimit returns the integer value of the first LIMIT clause in sql,
// or (0, false) if none is present.
func ExtractLimit(sqlQuery string) (int, bool) {
	m := limitPattern.FindStringSubmatch(sqlQuery)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
