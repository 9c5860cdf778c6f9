// Package query provides validation, normalization, and complexity
// estimation for CPGQL queries before they reach the Joern engine.
//
// Every query passes through here first: validation rejects queries that
// could touch the host system through the Scala REPL, normalization
// produces the canonical form used for cache keying, and the complexity
// estimator drives timeout scaling and cache-tier placement downstream.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryLength is the hard upper bound on query size in bytes.
// Anything longer is rejected before validation even looks at content.
const MaxQueryLength = 10000

// forbiddenPatterns match constructs that would let a query escape the
// CPG sandbox and execute on the host through the REPL. Matching is
// case-insensitive and runs against the raw query text.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)System\.exit`),
	regexp.MustCompile(`(?i)Runtime\.getRuntime`),
	regexp.MustCompile(`(?i)ProcessBuilder`),
	regexp.MustCompile(`(?i)File\.delete`),
	regexp.MustCompile(`(?i)Files\.delete`),
	regexp.MustCompile(`(?i)scala\.sys\.process`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ValidationError reports why a query was rejected. Pattern is the
// forbidden construct that matched, empty for length/empty rejections.
type ValidationError struct {
	Reason  string
	Pattern string
}

func (e *ValidationError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("query rejected: %s (%s)", e.Reason, e.Pattern)
	}
	return "query rejected: " + e.Reason
}

// Validate checks a raw query against the length limit and the forbidden
// pattern list. It returns a *ValidationError describing the first
// violation found, or nil when the query is safe to dispatch.
//
// Validation always happens before any cache lookup: a malicious query
// must never be served from cache either.
func Validate(q string) error {
	if strings.TrimSpace(q) == "" {
		return &ValidationError{Reason: "empty query"}
	}
	if len(q) > MaxQueryLength {
		return &ValidationError{
			Reason: fmt.Sprintf("query exceeds maximum length of %d bytes", MaxQueryLength),
		}
	}
	for _, re := range forbiddenPatterns {
		if loc := re.FindString(q); loc != "" {
			return &ValidationError{Reason: "forbidden operation", Pattern: loc}
		}
	}
	return nil
}

// Normalize collapses whitespace runs to single spaces and trims the
// result. Two queries that differ only in formatting normalize to the
// same string and therefore share a cache entry.
//
// Normalize is for keying only. The executor always sends the original
// query text to the engine, whitespace intact.
func Normalize(q string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(q, " "))
}
