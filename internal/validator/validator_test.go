package validator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

type decodedKey struct {
	status string
	class  string
}

type fakeMetrics struct {
	decoded     map[decodedKey]int
	conversions int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{decoded: map[decodedKey]int{}}
}

func (m *fakeMetrics) IncRowsDecoded(_, status, class string) {
	m.decoded[decodedKey{status, class}]++
}

func (m *fakeMetrics) ObserveRowConversion(string, time.Duration) {
	m.conversions++
}

func testSchema() *schema.Schema {
	return schema.NewSchema("orders").
		AddColumn(schema.NewFixedPoint("id")).
		AddColumn(schema.NewBit("paid")).
		AddColumn(schema.NewDecimal("amount", 10, 2)).
		AddColumn(schema.NewText("note"))
}

func consumed(text *string) *row.ConsumedRow {
	return &row.ConsumedRow{
		Text: text,
		Metadata: row.KafkaMetadata{
			Topic:     "orders",
			Partition: 4,
			Offset:    99,
		},
	}
}

func strPtr(s string) *string { return &s }

func TestNewRowValidator(t *testing.T) {
	tests := []struct {
		name    string
		schema  *schema.Schema
		wantErr bool
	}{
		{"valid", testSchema(), false},
		{"nil schema", nil, true},
		{"empty schema", schema.NewSchema("empty"), true},
		{"invalid schema", schema.NewSchema("bad").AddColumn(&schema.Column{Name: "a", Type: schema.TypeArray}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewRowValidator(tt.schema, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRowValidator() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, idf.ErrSchema) {
					t.Errorf("error = %v, want a schema error", err)
				}
				return
			}
			if v.Schema() != tt.schema {
				t.Error("Schema() should return the bound schema")
			}
		})
	}
}

func TestRowValidator_Validate(t *testing.T) {
	metrics := newFakeMetrics()
	v, err := NewRowValidator(testSchema(), metrics)
	if err != nil {
		t.Fatalf("NewRowValidator() error = %v", err)
	}

	record, err := v.Validate(consumed(strPtr(`7,1,19.90,'it\'s'`)))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if record.Text != `7,true,19.90,'it\'s'` {
		t.Errorf("Text = %s, want the canonical form", record.Text)
	}
	if len(record.Values) != 4 {
		t.Fatalf("Values = %v", record.Values)
	}
	if record.Values[0] != int64(7) || record.Values[1] != true || record.Values[3] != "it's" {
		t.Errorf("Values = %#v", record.Values)
	}
	if d, ok := record.Values[2].(decimal.Decimal); !ok || !d.Equal(decimal.RequireFromString("19.9")) {
		t.Errorf("amount = %#v", record.Values[2])
	}
	if record.Offset != 99 || record.Kafka.Partition != 4 {
		t.Errorf("record position = %d/%d", record.Kafka.Partition, record.Offset)
	}
	if record.ProcessedAt.IsZero() {
		t.Error("ProcessedAt should be set")
	}

	if metrics.decoded[decodedKey{"success", ""}] != 1 || metrics.conversions != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestRowValidator_ValidateNullRow(t *testing.T) {
	metrics := newFakeMetrics()
	v, _ := NewRowValidator(testSchema(), metrics)

	record, err := v.Validate(consumed(nil))
	if !errors.Is(err, kerrors.ErrNullRow) {
		t.Errorf("Validate() error = %v, want ErrNullRow", err)
	}
	if record != nil {
		t.Errorf("record = %+v, want nil", record)
	}
	if metrics.decoded[decodedKey{"null", ""}] != 1 {
		t.Errorf("metrics = %+v", metrics.decoded)
	}
}

func TestRowValidator_ValidateErrors(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantClass string
		sentinel  error
	}{
		{"too few fields", `7,true`, "schema", idf.ErrSchema},
		{"empty row", ``, "parse", idf.ErrParse},
		{"unterminated quote", `7,true,1.00,'open`, "parse", idf.ErrParse},
		{"bad integer", `seven,true,1.00,'a'`, "type", idf.ErrType},
		{"bad bit", `7,2,1.00,'a'`, "type", idf.ErrType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newFakeMetrics()
			v, _ := NewRowValidator(testSchema(), metrics)

			_, err := v.Validate(consumed(strPtr(tt.text)))

			var verr *kerrors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Class() != tt.wantClass {
				t.Errorf("Class() = %q, want %q", verr.Class(), tt.wantClass)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v should match %v", err, tt.sentinel)
			}
			if !errors.Is(err, kerrors.ErrInvalidRow) {
				t.Error("validation errors should match ErrInvalidRow")
			}
			if verr.IsRetryable() || kerrors.IsRetryable(err) {
				t.Error("validation errors must not be retryable")
			}
			if verr.Offset != 99 || verr.PartitionID.Partition != 4 {
				t.Errorf("error position = %+v", verr)
			}
			if metrics.decoded[decodedKey{"failure", tt.wantClass}] != 1 {
				t.Errorf("metrics = %+v", metrics.decoded)
			}
		})
	}
}

func TestRowValidator_ReusesConverterAcrossRows(t *testing.T) {
	v, _ := NewRowValidator(testSchema(), nil)

	first, err := v.Validate(consumed(strPtr(`1,0,1.00,'a'`)))
	if err != nil {
		t.Fatalf("first Validate() error = %v", err)
	}
	if _, err := v.Validate(consumed(strPtr(`broken`))); err == nil {
		t.Fatal("second Validate() should fail")
	}
	third, err := v.Validate(consumed(strPtr(`3,1,3.00,NULL`)))
	if err != nil {
		t.Fatalf("third Validate() error = %v", err)
	}

	if first.Values[0] != int64(1) || first.Text != `1,false,1.00,'a'` {
		t.Errorf("first record changed: %+v", first)
	}
	if third.Values[3] != nil || third.Text != `3,true,3.00,NULL` {
		t.Errorf("third record = %+v", third)
	}
}
