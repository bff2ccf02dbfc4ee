// Package llmjson turns model completions into JSON the service can decode.
package llmjson

import (
	"fmt"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

// Sanitize makes a best-effort attempt to turn raw model output into valid
// JSON text: it keeps only the first fenced block, trims prose around the
// outermost object or array, escapes control characters inside string
// literals and drops trailing commas. The result can still be invalid.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	if body, ok := fencedBody(s); ok {
		s = strings.TrimSpace(body)
	}
	s = extractValue(s)
	return repair(s)
}

// fencedBody returns the content of the first fence that is not part of a
// JSON value. A fence inside a string of the leading object is text the
// model meant to return, not a wrapper around it; likewise a fence inside a
// string of the fenced value does not close the wrapper.
func fencedBody(s string) (string, bool) {
	loc := fencePattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", false
	}
	if start := strings.IndexAny(s, "{["); start >= 0 && start < loc[0] && valueEnd(s, start) > loc[0] {
		return "", false
	}
	body := s[loc[2]:]
	if start := strings.IndexAny(body, "{["); start >= 0 && loc[2]+start < loc[3] {
		if end := valueEnd(body, start); end < len(body) {
			return body[:end], true
		}
	}
	return s[loc[2]:loc[3]], true
}

// extractValue returns the first top-level object or array in s, found by a
// string-aware depth scan. An unterminated value is returned to the end of s.
func extractValue(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	return s[start:valueEnd(s, start)]
}

// valueEnd returns the index just past the object or array opening at
// start, or len(s) when it never closes.
func valueEnd(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}

// repair walks s once, tracking whether it is inside a string literal and
// whether the previous byte was an escape.
func repair(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
				switch c {
				case '\n':
					b.WriteByte('n')
				case '\r':
					b.WriteByte('r')
				case '\t':
					b.WriteByte('t')
				default:
					b.WriteByte(c)
				}
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				if closesString(s, i+1) {
					inString = false
					b.WriteByte(c)
				} else {
					b.WriteString(`\"`)
				}
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			if next := nextNonSpace(s, i+1); next == '}' || next == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closesString reports whether a quote followed by s[from:] ends a string
// literal rather than sitting unescaped inside one.
func closesString(s string, from int) bool {
	switch nextNonSpace(s, from) {
	case 0, ':', ',', '}', ']':
		return true
	}
	return false
}

func nextNonSpace(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return s[i]
	}
	return 0
}
