package idf

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrSchema = errors.New("idf schema error")
	ErrParse  = errors.New("idf parse error")
	ErrType   = errors.New("idf type error")
)

// SchemaError reports a missing or invalid schema or a row whose length does
// not match it.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", e.Reason)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// ParseError reports malformed row text. Pos is a byte offset, or -1 when
// the error is not tied to a position.
type ParseError struct {
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("parse error: %s", e.Reason)
	}
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// TypeError reports a token or value that does not fit its column type.
type TypeError struct {
	Column string
	Token  string
	Reason string
	Err    error
}

func (e *TypeError) Error() string {
	msg := fmt.Sprintf("type error: column=%s token=%q: %s", e.Column, e.Token, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeError) Unwrap() error {
	return e.Err
}

func (e *TypeError) Is(target error) bool {
	return target == ErrType
}

// Class returns "schema", "parse" or "type" for codec errors and "" for
// anything else.
func Class(err error) string {
	switch {
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrType):
		return "type"
	default:
		return ""
	}
}
