package idf

import (
	"github.com/jittakal/kafrowstore/pkg/idf"
)

// splitFields splits a textual row into its top-level fields.
//
// A comma separates fields only outside single quotes and at bracket depth 0.
// Inside a quoted field a backslash escapes the next byte, so escaped quotes
// never end the field. Bare (unquoted) bracket tokens are tracked by depth and
// may carry double-quoted strings whose commas and brackets are ignored.
func splitFields(text string) ([]string, error) {
	fields := make([]string, 0, 16)
	start := 0
	depth := 0
	inQuote := false
	inDouble := false
	openedAt := -1

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inQuote {
			switch c {
			case escapeChar:
				i++
			case quoteChar:
				inQuote = false
			}
			continue
		}

		if inDouble {
			switch c {
			case escapeChar:
				i++
			case '"':
				inDouble = false
			}
			continue
		}

		switch c {
		case quoteChar:
			inQuote = true
			openedAt = i
		case '"':
			if depth > 0 {
				inDouble = true
				openedAt = i
			}
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth < 0 {
				return nil, &idf.ParseError{Pos: i, Reason: "unbalanced closing bracket"}
			}
		case ',':
			if depth == 0 {
				fields = append(fields, text[start:i])
				start = i + 1
			}
		}
	}

	switch {
	case inQuote:
		return nil, &idf.ParseError{Pos: openedAt, Reason: "unterminated quoted field"}
	case inDouble:
		return nil, &idf.ParseError{Pos: openedAt, Reason: "unterminated double-quoted string"}
	case depth != 0:
		return nil, &idf.ParseError{Pos: len(text), Reason: "unbalanced opening bracket"}
	}

	return append(fields, text[start:]), nil
}
