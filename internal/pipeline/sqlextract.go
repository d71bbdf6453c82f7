package pipeline

import (
	"regexp"
	"strings"
	"unicode"
)

var fencedBlock = regexp.MustCompile("(?s)```(.*?)```")

// ExtractSQL pulls a single-line SQL statement out of raw generation output.
// A triple-backtick fenced block wins when present (with any leading "sql"
// language tag dropped); otherwise the whole text is used. Newlines collapse
// to spaces because the executor wants a single-line statement.
func ExtractSQL(raw string) string {
	candidate := raw
	if match := fencedBlock.FindStringSubmatch(raw); match != nil {
		candidate = match[1]
	}
	candidate = strings.TrimSpace(candidate)
	candidate = stripLanguageTag(candidate)
	candidate = strings.ReplaceAll(candidate, "\r\n", "\n")
	candidate = strings.ReplaceAll(candidate, "\n", " ")
	return strings.TrimSpace(candidate)
}

func stripLanguageTag(candidate string) string {
	lower := strings.ToLower(candidate)
	if !strings.HasPrefix(lower, "sql") {
		return candidate
	}
	if len(candidate) == 3 {
		return ""
	}
	if unicode.IsSpace(rune(candidate[3])) {
		return strings.TrimSpace(candidate[3:])
	}
	return candidate
}

// IsAllowedSQL is the read-only gate in front of query execution: a single
// SELECT or WITH statement, nothing else.
func IsAllowedSQL(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, ";") {
		return false
	}
	normalized := strings.ToLower(trimmed)
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}
