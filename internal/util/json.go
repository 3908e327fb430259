package util

import (
	"regexp"
	"strings"
)

// Precompiled regex patterns for performance (compiled once at package init)
var (
	jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
)

// ExtractJSON extracts JSON content from a response that may contain markdown code blocks
// or surrounding prose, and closes truncated arrays and objects.
// Whichever of '[' or '{' appears first decides the top-level value.
func ExtractJSON(s string) string {
	matches := jsonCodeBlockRegex.FindStringSubmatch(s)
	if len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	} else {
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}

	openChar, closeChar := rune('['), rune(']')
	if s[start] == '{' {
		openChar, closeChar = '{', '}'
	}

	if end := findMatchingBracket(s, start, openChar, closeChar); end != -1 {
		return s[start : end+1]
	}

	// Truncated (usually max_tokens): close whatever is still open
	return closeTruncated(s[start:])
}

// findMatchingBracket finds the matching closing bracket for an opening bracket
// using proper bracket matching that handles escaped quotes and strings
// Returns -1 if no matching bracket is found
func findMatchingBracket(s string, startPos int, openChar, closeChar rune) int {
	count := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := rune(s[i])

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		// Only count brackets outside of strings
		if !inString {
			if ch == openChar {
				count++
			} else if ch == closeChar {
				count--
				if count == 0 {
					return i
				}
			}
		}
	}

	return -1
}

// closeTruncated terminates an open string, drops a dangling separator and
// appends the closers for every bracket still open, innermost first
func closeTruncated(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '[' || ch == '{':
			stack = append(stack, ch)
		case (ch == ']' || ch == '}') && len(stack) > 0:
			stack = stack[:len(stack)-1]
		}
	}

	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \n\r\t,")
	if strings.HasSuffix(s, ":") {
		s += "null"
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '[' {
			b.WriteByte(']')
		} else {
			b.WriteByte('}')
		}
	}
	return b.String()
}

// SanitizeJSON fixes common JSON issues from LLM responses
// Specifically handles unescaped newlines in string values
func SanitizeJSON(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}

		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		// Replace literal newlines in strings with \n
		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}

// RepairJSON applies SanitizeJSON and then removes stray commas and inserts
// missing ones between adjacent values, outside of strings
func RepairJSON(s string) string {
	s = SanitizeJSON(s)

	var out strings.Builder
	inString := false
	escaped := false

	lastSignificant := func() byte {
		b := out.String()
		for i := len(b) - 1; i >= 0; i-- {
			if b[i] != ' ' && b[i] != '\n' && b[i] != '\t' && b[i] != '\r' {
				return b[i]
			}
		}
		return 0
	}
	nextSignificant := func(from int) byte {
		for i := from; i < len(s); i++ {
			if s[i] != ' ' && s[i] != '\n' && s[i] != '\t' && s[i] != '\r' {
				return s[i]
			}
		}
		return 0
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			out.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case ',':
			prev, next := lastSignificant(), nextSignificant(i+1)
			if prev == ',' || prev == '[' || prev == '{' || next == ']' || next == '}' || next == ',' {
				continue
			}
		case '"', '{', '[':
			if prev := lastSignificant(); prev == '"' || prev == '}' || prev == ']' {
				out.WriteByte(',')
			}
			if ch == '"' {
				inString = true
			}
		}
		out.WriteByte(ch)
	}

	return out.String()
}
