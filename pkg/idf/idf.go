// Package idf defines the intermediate data format contract: a schema-bound
// converter between a single-line textual row and a typed value row.
//
// Null handling: a nil *string is a null textual row and a nil []any is a null
// value row. A null row bypasses the schema entirely.
//
// Value model per column type:
//
//	FixedPoint            int64
//	FloatingPoint         float64
//	Decimal               decimal.Decimal (github.com/shopspring/decimal)
//	Text, Enum, Unknown   string
//	Binary                []byte
//	Bit                   bool
//	Date                  civil.Date (cloud.google.com/go/civil)
//	Time                  civil.Time
//	DateTime              civil.DateTime, or time.Time when an offset is present
//	Array, Set            []any
//	Map                   map[string]any
package idf

import "github.com/jittakal/kafrowstore/pkg/schema"

// NullValue is the textual marker of a null field.
const NullValue = "NULL"

// DataFormat converts one row at a time between its textual and value forms.
// Implementations cache the most recently set representation and compute the
// other lazily; they are not safe for concurrent use.
type DataFormat interface {
	// BindSchema binds the schema used for every later conversion.
	BindSchema(s *schema.Schema) error

	// SetText sets the textual row, invalidating cached values.
	SetText(text *string)

	// SetValues sets the value row, invalidating cached text.
	SetValues(values []any)

	// Text returns the textual row.
	Text() (*string, error)

	// Values returns the value row.
	Values() ([]any, error)
}
