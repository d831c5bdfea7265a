package idf

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// Converter converts one row at a time between its textual and value
// representations. Conversions run lazily in the getters and are memoized
// until the next setter call.
//
// A Converter is not safe for concurrent use; create one per worker.
type Converter struct {
	schema *schema.Schema

	text   *string
	values []any

	hasText   bool
	hasValues bool

	// input holds a private copy of the values passed to SetValues until
	// the getters normalise it.
	input    []any
	hasInput bool
}

var _ idf.DataFormat = (*Converter)(nil)

// NewConverter creates a converter with no schema bound.
func NewConverter() *Converter {
	return &Converter{}
}

// Schema returns the bound schema or nil.
func (c *Converter) Schema() *schema.Schema {
	return c.schema
}

// BindSchema binds the schema the rows are converted against. Binding a
// structurally equal schema again is a no-op.
func (c *Converter) BindSchema(s *schema.Schema) error {
	if s == nil {
		return &idf.SchemaError{Reason: "schema is nil"}
	}
	if err := s.Validate(); err != nil {
		return &idf.SchemaError{Reason: err.Error()}
	}
	if c.schema != nil {
		if err := c.schema.Equals(s); err != nil {
			return &idf.SchemaError{Reason: fmt.Sprintf("a different schema is already bound: %v", err)}
		}
		return nil
	}
	c.schema = s
	return nil
}

// SetText sets the textual row. nil marks a null row.
func (c *Converter) SetText(text *string) {
	c.reset()
	if text != nil {
		s := *text
		c.text = &s
	}
	c.hasText = true
}

// SetValues sets the value row. nil marks a null row. The slice and any
// nested slices or maps are copied.
func (c *Converter) SetValues(values []any) {
	c.reset()
	if values == nil {
		c.hasValues = true
		return
	}
	c.input = copyRow(values)
	c.hasInput = true
}

// Text returns the textual row, encoding the values when needed.
func (c *Converter) Text() (*string, error) {
	switch {
	case c.hasText:
		return cloneText(c.text), nil
	case c.hasValues && c.values == nil:
		c.hasText = true
		return nil, nil
	case c.hasInput:
		s, err := c.encode(c.input)
		if err != nil {
			return nil, err
		}
		c.text = &s
		c.hasText = true
		return cloneText(c.text), nil
	}
	return nil, nil
}

// Values returns the value row, decoding the text when needed. The returned
// slice is cached; callers must not modify it.
func (c *Converter) Values() ([]any, error) {
	switch {
	case c.hasValues:
		return c.values, nil
	case c.hasText && c.text == nil:
		c.hasValues = true
		return nil, nil
	case c.hasText, c.hasInput:
		text, err := c.Text()
		if err != nil {
			return nil, err
		}
		values, err := c.decode(*text)
		if err != nil {
			return nil, err
		}
		c.values = values
		c.hasValues = true
		c.input = nil
		c.hasInput = false
		return c.values, nil
	}
	return nil, nil
}

func (c *Converter) reset() {
	c.text = nil
	c.values = nil
	c.input = nil
	c.hasText = false
	c.hasValues = false
	c.hasInput = false
}

func (c *Converter) requireSchema() error {
	switch {
	case c.schema == nil:
		return &idf.SchemaError{Reason: "no schema bound"}
	case c.schema.IsEmpty():
		return &idf.SchemaError{Reason: "bound schema has no columns"}
	}
	return nil
}

func (c *Converter) decode(text string) ([]any, error) {
	if err := c.requireSchema(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, &idf.ParseError{Pos: 0, Reason: "empty row"}
	}

	fields, err := splitFields(text)
	if err != nil {
		return nil, err
	}
	if len(fields) != c.schema.Len() {
		return nil, &idf.SchemaError{
			Reason: fmt.Sprintf("row has %d fields, schema %q has %d columns", len(fields), c.schema.Name, c.schema.Len()),
		}
	}

	values := make([]any, len(fields))
	for i, col := range c.schema.Columns {
		v, err := decodeField(col, fields[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (c *Converter) encode(values []any) (string, error) {
	if err := c.requireSchema(); err != nil {
		return "", err
	}
	if len(values) != c.schema.Len() {
		return "", &idf.SchemaError{
			Reason: fmt.Sprintf("row has %d values, schema %q has %d columns", len(values), c.schema.Name, c.schema.Len()),
		}
	}

	var b strings.Builder
	for i, col := range c.schema.Columns {
		field, err := encodeField(col, values[i])
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(field)
	}
	return b.String(), nil
}

func cloneText(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyRow(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = copyValue(v)
	}
	return out
}

// copyValue deep-copies slices and string-keyed maps. Other values are
// immutable or copied by assignment.
func copyValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return bytes.Clone(x)
	case []any:
		if x == nil {
			return nil
		}
		return copyRow(x)
	case map[string]any:
		if x == nil {
			return nil
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = copyValue(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return bytes.Clone(rv.Bytes())
		}
		items, _ := listItems(v)
		return copyRow(items)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if entries, ok := mapEntries(v); ok {
			return copyValue(entries)
		}
	}
	return v
}
