package service

import (
	"regexp"
	"strings"
)

// dangerousPatterns match SQL statements that can destroy data or alter
// access control. Matching is case-insensitive and word-bounded.
var dangerousPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	// User and role patterns precede the bare keywords so the audit
	// trail names the more specific rule.
	{"create_user", regexp.MustCompile(`(?i)\bCREATE\s+(USER|ROLE)\b`)},
	{"drop_user", regexp.MustCompile(`(?i)\bDROP\s+(USER|ROLE)\b`)},
	{"drop", regexp.MustCompile(`(?i)\bDROP\b`)},
	{"delete", regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`)},
	{"truncate", regexp.MustCompile(`(?i)\bTRUNCATE\b`)},
	{"alter", regexp.MustCompile(`(?i)\bALTER\b`)},
	{"grant", regexp.MustCompile(`(?i)\bGRANT\b`)},
	{"revoke", regexp.MustCompile(`(?i)\bREVOKE\b`)},
}

// readOnlyKeywords are the statement-leading keywords treated as read-only.
var readOnlyKeywords = map[string]struct{}{
	"SELECT":  {},
	"WITH":    {},
	"EXPLAIN": {},
	"SHOW":    {},
	"PRAGMA":  {},
}

// DangerousSQL returns the name of the first dangerous pattern the
// statement matches, or empty when none match.
func DangerousSQL(sql string) string {
	for _, p := range dangerousPatterns {
		if p.pattern.MatchString(sql) {
			return p.name
		}
	}
	return ""
}

// IsReadOnlySQL classifies a statement by its leading keyword, used to
// route execution through Query rather than Exec. Leading whitespace and
// SQL comments are skipped first. An empty statement is not read-only;
// it should be rejected upstream.
func IsReadOnlySQL(sql string) bool {
	_, ok := readOnlyKeywords[leadingKeyword(sql)]
	return ok
}

// IsSelectStatement reports whether the statement's leading keyword is
// SELECT. The select-only gate for non-privileged roles keys on this,
// not on IsReadOnlySQL: a CTE head (WITH ... UPDATE) can front a
// mutating statement.
func IsSelectStatement(sql string) bool {
	return leadingKeyword(sql) == "SELECT"
}

// leadingKeyword returns the upper-cased first keyword of the statement
// after stripping whitespace and comments, or "" for an empty statement.
func leadingKeyword(sql string) string {
	trimmed := stripLeadingComments(sql)
	if trimmed == "" {
		return ""
	}
	keyword := trimmed
	if i := strings.IndexAny(trimmed, " \t\r\n;("); i >= 0 {
		keyword = trimmed[:i]
	}
	return strings.ToUpper(keyword)
}

// stripLeadingComments removes leading whitespace, line comments, and
// block comments so the keyword check sees the real statement head.
func stripLeadingComments(sql string) string {
	s := strings.TrimSpace(sql)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+1:])
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+2:])
		default:
			return s
		}
	}
}
