// Package pagejson recovers JSON objects embedded in HTML pages.
//
// The watch page inlines its configuration and initial-data blobs as
// JavaScript assignments. The blobs are large, occasionally truncated by
// trailing script content, and full of braces inside string literals, so
// extraction is a two step affair: anchor on a known assignment pattern,
// then take the earliest prefix of the remaining document that is valid
// JSON using a string-aware depth count.
package pagejson

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ExtractObject anchors on re, skips to the first '{' after the match and
// returns the earliest valid JSON object starting there. The regexp itself
// does not need to capture the object.
func ExtractObject(body string, re *regexp.Regexp) (string, bool) {
	loc := re.FindStringIndex(body)
	if loc == nil {
		return "", false
	}
	start := strings.IndexByte(body[loc[1]:], '{')
	if start == -1 {
		return "", false
	}
	start += loc[1]
	end := strings.LastIndexByte(body, '}')
	if end < start {
		return "", false
	}
	return EarliestValidObject(body[start : end+1])
}

// ExtractAfterMarker is the marker-string variant of ExtractObject, for
// callers that anchor on a literal substring rather than a pattern.
func ExtractAfterMarker(body, marker string) (string, bool) {
	idx := strings.Index(body, marker)
	if idx == -1 {
		return "", false
	}
	rest := body[idx+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start == -1 {
		return "", false
	}
	return EarliestValidObject(rest[start:])
}

// EarliestValidObject scans s, which must begin at a '{', and returns the
// shortest prefix that parses as JSON. Braces inside string literals are
// ignored; escaped characters inside strings are skipped. Candidate prefixes
// are the points where the brace depth returns to zero; the first candidate
// that validates wins, so trailing garbage after the object is tolerated.
func EarliestValidObject(s string) (string, bool) {
	if s == "" || s[0] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[:i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				// Keep scanning: a mismatched close brace inside broken
				// markup can zero the count early.
			}
			if depth < 0 {
				depth = 0
			}
		}
	}
	return "", false
}

// ExtractString returns the string value following marker up to the next
// unescaped double quote. Used for flat scalar fields like the API key.
func ExtractString(body, marker string) string {
	idx := strings.Index(body, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	end := strings.Index(body[start:], `"`)
	if end == -1 {
		return ""
	}
	return body[start : start+end]
}
