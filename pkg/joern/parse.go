package joern

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// replAssignment matches Scala REPL output of the form
//
//	val res3: String = """[{"name": ...}]"""
//
// capturing everything after the first "=".
var replAssignment = regexp.MustCompile(`(?s)=\s*(.+)$`)

// ErrUnparseable reports stdout that yielded no structured value.
var ErrUnparseable = errors.New("unparseable engine output")

// ParseResponse recovers a structured value from engine stdout.
//
// Attempts, in order:
//  1. stdout is JSON as-is
//  2. REPL assignment form: decode the text after "="; if that decodes
//     to a JSON string, decode once more (toJson results arrive as a
//     quoted string inside the REPL value)
//  3. first balanced [...] or {...} blob anywhere in stdout
//
// When nothing decodes, the trimmed raw text is returned with
// ErrUnparseable so callers can decide whether raw text is acceptable.
func ParseResponse(stdout string) (any, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, ErrUnparseable
	}

	if v, ok := tryJSON(trimmed); ok {
		return v, nil
	}

	// Raw fallback; when stdout is a REPL assignment this becomes the
	// unquoted value so callers see DOT text or plain strings without
	// the "val resN" prefix.
	raw := trimmed

	if m := replAssignment.FindStringSubmatch(trimmed); m != nil {
		candidate := strings.TrimSpace(m[1])
		candidate = strings.Trim(candidate, "\"")
		candidate = strings.ReplaceAll(candidate, `\"`, `"`)
		candidate = strings.ReplaceAll(candidate, `\n`, "\n")
		if v, ok := tryJSON(candidate); ok {
			// toJson output arrives as a string-typed REPL value; a
			// successful decode to string means one more layer remains.
			if s, isStr := v.(string); isStr {
				if inner, ok := tryJSON(s); ok {
					return inner, nil
				}
			}
			return v, nil
		}
		raw = candidate
	}

	for _, blob := range extractBlobs(trimmed) {
		if v, ok := tryJSON(blob); ok {
			return v, nil
		}
	}

	return raw, ErrUnparseable
}

// SafeParse never fails: unparseable output is wrapped as {"raw": ...}.
func SafeParse(stdout string) any {
	v, err := ParseResponse(stdout)
	if err != nil {
		if s, ok := v.(string); ok && s != "" {
			return map[string]any{"raw": s}
		}
		return map[string]any{"raw": strings.TrimSpace(stdout)}
	}
	return v
}

func tryJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// extractBlobs returns every balanced [...] or {...} region in s that
// starts at a top-level bracket, honoring string literals so brackets
// inside quoted values don't unbalance the scan. REPL output mixes type
// annotations like List[String] with the actual payload, so callers try
// each candidate in order until one decodes.
func extractBlobs(s string) []string {
	var blobs []string
	offset := 0
	for {
		rel := strings.IndexAny(s[offset:], "[{")
		if rel < 0 {
			return blobs
		}
		start := offset + rel
		if end := balancedEnd(s, start); end > start {
			blobs = append(blobs, s[start:end+1])
			offset = end + 1
		} else {
			offset = start + 1
		}
	}
}

// balancedEnd scans from the opening bracket at start and returns the
// index of its matching closer, or -1.
func balancedEnd(s string, start int) int {
	open := s[start]
	closer := byte(']')
	if open == '{' {
		closer = '}'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
