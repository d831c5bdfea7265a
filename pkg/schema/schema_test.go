package schema

import "testing"

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		want    Type
		wantErr bool
	}{
		{"fixed_point", TypeFixedPoint, false},
		{"FixedPoint", TypeFixedPoint, false},
		{"date_time", TypeDateTime, false},
		{"datetime", TypeDateTime, false},
		{"date-time", TypeDateTime, false},
		{" map ", TypeMap, false},
		{"enum", TypeEnum, false},
		{"unknown", TypeUnknown, false},
		{"varchar", TypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseType(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestType_String(t *testing.T) {
	for typ, name := range typeNames {
		if typ.String() != name {
			t.Errorf("String() = %q, want %q", typ.String(), name)
		}
		parsed, err := ParseType(typ.String())
		if err != nil || parsed != typ {
			t.Errorf("ParseType(%q) = (%v, %v), want %v", name, parsed, err, typ)
		}
	}
	if got := Type(99).String(); got != "type(99)" {
		t.Errorf("String() = %q, want type(99)", got)
	}
}

func TestColumn_Validate(t *testing.T) {
	tests := []struct {
		name    string
		col     *Column
		wantErr bool
	}{
		{"scalar", NewFixedPoint("a"), false},
		{"nil", nil, true},
		{"invalid type", &Column{Name: "a", Type: Type(42)}, true},
		{"scalar with element", &Column{Name: "a", Type: TypeText, Element: NewText("e")}, true},
		{"array", NewArray("a", NewText("e")), false},
		{"array without element", &Column{Name: "a", Type: TypeArray}, true},
		{"array of arrays", NewArray("a", NewSet("e", NewFixedPoint("ee"))), false},
		{"three levels", NewArray("a", NewArray("e", NewArray("ee", NewBit("eee")))), true},
		{"nested without element", NewArray("a", &Column{Name: "e", Type: TypeArray}), true},
		{"array of maps", NewArray("a", NewMap("e", NewText("k"), NewText("v"))), true},
		{"map", NewMap("m", NewText("k"), NewDecimal("v", 10, 2)), false},
		{"map enum key", NewMap("m", NewEnum("k"), NewText("v")), false},
		{"map integer key", NewMap("m", NewFixedPoint("k"), NewText("v")), true},
		{"map without value", &Column{Name: "m", Type: TypeMap, Key: NewText("k")}, true},
		{"map of maps", NewMap("m", NewText("k"), NewMap("v", NewText("k2"), NewBit("v2"))), false},
		{"map of nested arrays", NewMap("m", NewText("k"), NewArray("v", NewArray("e", NewDate("ee")))), false},
		{"map of bad array", NewMap("m", NewText("k"), &Column{Name: "v", Type: TypeSet}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.col.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_Equals(t *testing.T) {
	build := func() *Schema {
		return NewSchema("orders").
			AddColumn(NewFixedPoint("id")).
			AddColumn(NewDateTime("created", true, true)).
			AddColumn(NewMap("attrs", NewText("k"), NewArray("v", NewText("e"))))
	}

	if err := build().Equals(build()); err != nil {
		t.Errorf("Equals() = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*Schema)
	}{
		{"name", func(s *Schema) { s.Name = "other" }},
		{"column count", func(s *Schema) { s.AddColumn(NewText("extra")) }},
		{"column type", func(s *Schema) { s.Columns[0] = NewText("id") }},
		{"timezone flag", func(s *Schema) { s.Columns[1] = NewDateTime("created", true, false) }},
		{"nested element", func(s *Schema) { s.Columns[2].Value.Element = NewBinary("e") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := build()
			tt.mutate(other)
			if err := build().Equals(other); err == nil {
				t.Error("Equals() = nil, want difference")
			}
		})
	}

	if err := build().Equals(nil); err == nil {
		t.Error("Equals(nil) = nil, want error")
	}
}

func TestSchema_Accessors(t *testing.T) {
	s := NewSchema("s").AddColumn(NewText("a")).AddColumn(NewBit("b"))

	if s.Len() != 2 || s.IsEmpty() {
		t.Errorf("Len() = %d, IsEmpty() = %v", s.Len(), s.IsEmpty())
	}
	if names := s.ColumnNames(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ColumnNames() = %v", names)
	}
	if s.Index("b") != 1 || s.Index("z") != -1 {
		t.Errorf("Index() = %d, %d", s.Index("b"), s.Index("z"))
	}
	if !NewSchema("empty").IsEmpty() {
		t.Error("IsEmpty() = false for a schema without columns")
	}
	if err := s.AddColumn(NewText("a")).Validate(); err == nil {
		t.Error("Validate() should reject duplicate column names")
	}
}
