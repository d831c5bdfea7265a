package idf

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"

	"github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		col  *schema.Column
		v    any
		want string
	}{
		{"null", schema.NewFixedPoint("c"), nil, "NULL"},
		{"fixed point", schema.NewFixedPoint("c"), int64(7), "7"},
		{"text is unescaped", schema.NewText("c"), "it's", "it's"},
		{"bit", schema.NewBit("c"), true, "true"},
		{"date", schema.NewDate("c"), civil.Date{Year: 2014, Month: 10, Day: 1}, "2014-10-01"},
		{"array", schema.NewArray("c", schema.NewFixedPoint("e")), []any{int64(1), int64(2)}, "[1,2]"},
		{"map", schema.NewMap("c", schema.NewText("k"), schema.NewText("v")), map[string]any{"k": "v"}, `{"k":"v"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatValue(tt.col, tt.v)
			if err != nil {
				t.Fatalf("FormatValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToJSON(t *testing.T) {
	tests := []struct {
		name string
		col  *schema.Column
		v    any
		want any
	}{
		{"null", schema.NewText("c"), nil, nil},
		{"fixed point is a number", schema.NewFixedPoint("c"), int64(5), json.Number("5")},
		{"bit is a bool", schema.NewBit("c"), false, false},
		{"date is text", schema.NewDate("c"), civil.Date{Year: 2014, Month: 10, Day: 1}, "2014-10-01"},
		{
			"nested list stays nested",
			schema.NewArray("c", schema.NewArray("e", schema.NewFixedPoint("x"))),
			[]any{[]any{int64(1)}, nil},
			[]any{[]any{json.Number("1")}, nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToJSON(tt.col, tt.v)
			if err != nil {
				t.Fatalf("ToJSON() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToJSON() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		col     *schema.Column
		node    any
		want    any
		wantErr error
	}{
		{"null", schema.NewFixedPoint("c"), nil, nil, nil},
		{"number", schema.NewFixedPoint("c"), json.Number("5"), int64(5), nil},
		{"date text", schema.NewDate("c"), "2014-10-01", civil.Date{Year: 2014, Month: 10, Day: 1}, nil},
		{"bool for bit", schema.NewBit("c"), true, true, nil},
		{"bool for fixed point", schema.NewFixedPoint("c"), true, nil, idf.ErrType},
		{"array for text", schema.NewText("c"), []any{"a"}, nil, idf.ErrType},
		{"number for array", schema.NewArray("c", schema.NewFixedPoint("e")), json.Number("1"), nil, idf.ErrType},
		{"string for map", schema.NewMap("c", schema.NewText("k"), schema.NewText("v")), "x", nil, idf.ErrType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromJSON(tt.col, tt.node)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FromJSON() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromJSON() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FromJSON() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	col := schema.NewMap("attrs", schema.NewText("k"), schema.NewArray("v", schema.NewDecimal("d", 10, 2)))
	in := `{"a":[1.22,2.44],"b":null}`

	dec := json.NewDecoder(strings.NewReader(in))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	v, err := FromJSON(col, node)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	back, err := ToJSON(col, v)
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	out, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != in {
		t.Errorf("round trip = %s, want %s", out, in)
	}
}
