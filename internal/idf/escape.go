package idf

import "strings"

const (
	quoteChar  = '\''
	escapeChar = '\\'
)

// escape backslash-escapes the characters that would break a quoted field.
func escape(s string) string {
	if !strings.ContainsAny(s, "\\'\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case escapeChar:
			b.WriteString(`\\`)
		case quoteChar:
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescape reverses escape. Besides the canonical sequences it accepts \0,
// \Z, \t and \"; any other escaped byte stands for itself. ok is false for a
// dangling trailing backslash.
func unescape(s string) (out string, ok bool) {
	if strings.IndexByte(s, escapeChar) < 0 {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != escapeChar {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", false
		}
		switch n := s[i]; n {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case 'Z':
			b.WriteByte(0x1A)
		default:
			b.WriteByte(n)
		}
	}
	return b.String(), true
}

// quote wraps an already-escaped payload in single quotes.
func quote(s string) string {
	return string(quoteChar) + s + string(quoteChar)
}

// unquote strips the surrounding single quotes and unescapes the payload.
func unquote(token string) (string, bool) {
	if len(token) < 2 || token[0] != quoteChar || token[len(token)-1] != quoteChar {
		return "", false
	}
	return unescape(token[1 : len(token)-1])
}
