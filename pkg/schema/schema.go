// Package schema defines the column type taxonomy that rows are bound to.
//
// A Schema is an ordered, named list of Columns. Columns form a closed set of
// semantic types; compound columns (Array, Set, Map) carry nested columns that
// describe their elements.
package schema

import (
	"fmt"
	"strings"
)

// Type identifies the semantic type of a column.
type Type int

const (
	TypeUnknown Type = iota
	TypeFixedPoint
	TypeFloatingPoint
	TypeDecimal
	TypeText
	TypeBinary
	TypeBit
	TypeDate
	TypeTime
	TypeDateTime
	TypeArray
	TypeSet
	TypeMap
	TypeEnum
)

var typeNames = map[Type]string{
	TypeUnknown:       "unknown",
	TypeFixedPoint:    "fixed_point",
	TypeFloatingPoint: "floating_point",
	TypeDecimal:       "decimal",
	TypeText:          "text",
	TypeBinary:        "binary",
	TypeBit:           "bit",
	TypeDate:          "date",
	TypeTime:          "time",
	TypeDateTime:      "date_time",
	TypeArray:         "array",
	TypeSet:           "set",
	TypeMap:           "map",
	TypeEnum:          "enum",
}

// String returns the configuration name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType converts a configuration name ("fixed_point", "date_time", ...)
// into a Type. Matching is case-insensitive and accepts the spellings without
// underscores ("fixedpoint", "datetime").
func ParseType(name string) (Type, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for t, n := range typeNames {
		if normalized == n || normalized == strings.ReplaceAll(n, "_", "") {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown column type: %q", name)
}

// IsCompound reports whether the type nests other columns.
func (t Type) IsCompound() bool {
	return t == TypeArray || t == TypeSet || t == TypeMap
}

// IsList reports whether the type is Array or Set.
func (t Type) IsList() bool {
	return t == TypeArray || t == TypeSet
}

// IsTextLike reports whether values of the type are plain strings.
func (t Type) IsTextLike() bool {
	return t == TypeText || t == TypeEnum || t == TypeUnknown
}

// Column is one typed, named position of a schema.
type Column struct {
	Name string
	Type Type

	// Precision and Scale are carried for Decimal columns but never
	// interpreted by the row codec.
	Precision int
	Scale     int

	// HasFraction applies to Time and DateTime, HasTimezone to DateTime.
	HasFraction bool
	HasTimezone bool

	// Element is the element column of an Array or Set.
	Element *Column

	// Key and Value are the entry columns of a Map.
	Key   *Column
	Value *Column
}

func NewFixedPoint(name string) *Column    { return &Column{Name: name, Type: TypeFixedPoint} }
func NewFloatingPoint(name string) *Column { return &Column{Name: name, Type: TypeFloatingPoint} }
func NewText(name string) *Column          { return &Column{Name: name, Type: TypeText} }
func NewBinary(name string) *Column        { return &Column{Name: name, Type: TypeBinary} }
func NewBit(name string) *Column           { return &Column{Name: name, Type: TypeBit} }
func NewDate(name string) *Column          { return &Column{Name: name, Type: TypeDate} }
func NewEnum(name string) *Column          { return &Column{Name: name, Type: TypeEnum} }
func NewUnknown(name string) *Column       { return &Column{Name: name, Type: TypeUnknown} }

// NewDecimal creates a Decimal column. Precision and scale are opaque.
func NewDecimal(name string, precision, scale int) *Column {
	return &Column{Name: name, Type: TypeDecimal, Precision: precision, Scale: scale}
}

// NewTime creates a Time column.
func NewTime(name string, hasFraction bool) *Column {
	return &Column{Name: name, Type: TypeTime, HasFraction: hasFraction}
}

// NewDateTime creates a DateTime column.
func NewDateTime(name string, hasFraction, hasTimezone bool) *Column {
	return &Column{Name: name, Type: TypeDateTime, HasFraction: hasFraction, HasTimezone: hasTimezone}
}

// NewArray creates an Array column of the given element column.
func NewArray(name string, element *Column) *Column {
	return &Column{Name: name, Type: TypeArray, Element: element}
}

// NewSet creates a Set column of the given element column.
func NewSet(name string, element *Column) *Column {
	return &Column{Name: name, Type: TypeSet, Element: element}
}

// NewMap creates a Map column with the given key and value columns.
func NewMap(name string, key, value *Column) *Column {
	return &Column{Name: name, Type: TypeMap, Key: key, Value: value}
}

// Validate checks that the column's type parameters are consistent.
//
// Array and Set elements may be scalars or a list of scalars. Map keys must be
// string-like; Map values may be scalars, lists (same rule) or maps.
func (c *Column) Validate() error {
	if c == nil {
		return fmt.Errorf("column is nil")
	}
	if _, ok := typeNames[c.Type]; !ok {
		return fmt.Errorf("column %q: invalid type %d", c.Name, int(c.Type))
	}

	switch c.Type {
	case TypeArray, TypeSet:
		return c.validateList()
	case TypeMap:
		if c.Key == nil || c.Value == nil {
			return fmt.Errorf("column %q: map requires key and value columns", c.Name)
		}
		if !c.Key.Type.IsTextLike() {
			return fmt.Errorf("column %q: map key must be text, enum or unknown, got %s", c.Name, c.Key.Type)
		}
		if err := c.Key.Validate(); err != nil {
			return fmt.Errorf("column %q key: %w", c.Name, err)
		}
		if err := c.Value.Validate(); err != nil {
			return fmt.Errorf("column %q value: %w", c.Name, err)
		}
	default:
		if c.Element != nil || c.Key != nil || c.Value != nil {
			return fmt.Errorf("column %q: scalar %s column cannot carry nested columns", c.Name, c.Type)
		}
	}
	return nil
}

func (c *Column) validateList() error {
	if c.Element == nil {
		return fmt.Errorf("column %q: %s requires an element column", c.Name, c.Type)
	}
	elem := c.Element
	switch {
	case elem.Type == TypeMap:
		return fmt.Errorf("column %q: %s of map is not supported", c.Name, c.Type)
	case elem.Type.IsList():
		if elem.Element == nil {
			return fmt.Errorf("column %q: nested %s requires an element column", c.Name, elem.Type)
		}
		if elem.Element.Type.IsCompound() {
			return fmt.Errorf("column %q: more than two levels of list nesting are not supported", c.Name)
		}
	}
	if err := elem.Validate(); err != nil {
		return fmt.Errorf("column %q element: %w", c.Name, err)
	}
	return nil
}

// Equals returns nil when both columns describe the same type, or an error
// naming the first difference.
func (c *Column) Equals(other *Column) error {
	switch {
	case c == nil && other == nil:
		return nil
	case c == nil || other == nil:
		return fmt.Errorf("column presence differs")
	}
	if c.Name != other.Name {
		return fmt.Errorf("column name %q != %q", c.Name, other.Name)
	}
	if c.Type != other.Type {
		return fmt.Errorf("column %q: type %s != %s", c.Name, c.Type, other.Type)
	}
	if c.Precision != other.Precision || c.Scale != other.Scale {
		return fmt.Errorf("column %q: precision/scale differ", c.Name)
	}
	if c.HasFraction != other.HasFraction || c.HasTimezone != other.HasTimezone {
		return fmt.Errorf("column %q: fraction/timezone flags differ", c.Name)
	}
	if err := c.Element.Equals(other.Element); err != nil {
		return fmt.Errorf("column %q element: %w", c.Name, err)
	}
	if err := c.Key.Equals(other.Key); err != nil {
		return fmt.Errorf("column %q key: %w", c.Name, err)
	}
	if err := c.Value.Equals(other.Value); err != nil {
		return fmt.Errorf("column %q value: %w", c.Name, err)
	}
	return nil
}

// Schema is an ordered list of columns.
type Schema struct {
	Name    string
	Columns []*Column
}

// NewSchema creates an empty schema.
func NewSchema(name string) *Schema {
	return &Schema{Name: name}
}

// AddColumn appends a column and returns the schema for chaining.
func (s *Schema) AddColumn(c *Column) *Schema {
	s.Columns = append(s.Columns, c)
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.Columns)
}

// IsEmpty reports whether the schema has no columns.
func (s *Schema) IsEmpty() bool {
	return len(s.Columns) == 0
}

// ColumnNames returns the column names in order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column or -1.
func (s *Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate validates every column and rejects duplicate names.
func (s *Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Columns))
	for i, c := range s.Columns {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("schema %q column %d: %w", s.Name, i, err)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema %q: duplicate column name %q", s.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Equals returns nil when both schemas have the same name and columns.
func (s *Schema) Equals(other *Schema) error {
	if other == nil {
		return fmt.Errorf("schema is nil")
	}
	if s.Name != other.Name {
		return fmt.Errorf("schema name %q != %q", s.Name, other.Name)
	}
	if len(s.Columns) != len(other.Columns) {
		return fmt.Errorf("schema %q: column count %d != %d", s.Name, len(s.Columns), len(other.Columns))
	}
	for i := range s.Columns {
		if err := s.Columns[i].Equals(other.Columns[i]); err != nil {
			return fmt.Errorf("schema %q column %d: %w", s.Name, i, err)
		}
	}
	return nil
}
