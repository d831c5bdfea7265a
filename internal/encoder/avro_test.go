package encoder

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

func readAvro(t *testing.T, data []byte, gzipped bool) []map[string]any {
	t.Helper()

	var r io.Reader = bytes.NewReader(data)
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			t.Fatalf("gzip.NewReader() error = %v", err)
		}
		defer gz.Close()
		r = gz
	}

	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		t.Fatalf("NewOCFReader() error = %v", err)
	}
	var out []map[string]any
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		out = append(out, datum.(map[string]any))
	}
	if err := ocf.Err(); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return out
}

func TestNewAvroEncoder(t *testing.T) {
	tests := []struct {
		name        string
		schema      *schema.Schema
		compression string
		wantExt     string
		wantErr     bool
	}{
		{"gzip compression", testSchema(), "gzip", ".avro.gz", false},
		{"GZIP compression", testSchema(), "GZIP", ".avro.gz", false},
		{"deflate compression", testSchema(), "deflate", ".avro", false},
		{"uncompressed", testSchema(), "uncompressed", ".avro", false},
		{"nil schema", nil, "gzip", "", true},
		{"metadata collision", schema.NewSchema("s").AddColumn(schema.NewText("kafka_offset")), "gzip", "", true},
		{"sanitized collision", schema.NewSchema("s").AddColumn(schema.NewText("a-b")).AddColumn(schema.NewText("a_b")), "gzip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAvroEncoder(tt.schema, tt.compression)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAvroEncoder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if enc.FileExtension() != tt.wantExt {
				t.Errorf("FileExtension() = %v, want %v", enc.FileExtension(), tt.wantExt)
			}
			if enc.Format() != row.FormatAvro {
				t.Errorf("Format() = %v", enc.Format())
			}
		})
	}
}

func TestAvroName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"id", "id"},
		{"order-id", "order_id"},
		{"9lives", "_9lives"},
		{"", "_"},
		{"a b.c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := avroName(tt.in); got != tt.want {
			t.Errorf("avroName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAvroSchema(t *testing.T) {
	s := schema.NewSchema("nested").
		AddColumn(schema.NewArray("grid", schema.NewArray("line", schema.NewFixedPoint("n")))).
		AddColumn(schema.NewMap("attrs", schema.NewText("k"), schema.NewDate("v")))

	doc, err := AvroSchema(s)
	if err != nil {
		t.Fatalf("AvroSchema() error = %v", err)
	}

	var parsed struct {
		Name   string `json:"name"`
		Fields []struct {
			Name string `json:"name"`
			Type any    `json:"type"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if parsed.Name != "Nested" || len(parsed.Fields) != 2+len(metadataColumns) {
		t.Fatalf("schema = %s", doc)
	}

	wantGrid := []any{"null", map[string]any{
		"type":  "array",
		"items": []any{"null", map[string]any{"type": "array", "items": []any{"null", "long"}}},
	}}
	if !reflect.DeepEqual(parsed.Fields[0].Type, wantGrid) {
		t.Errorf("grid type = %#v", parsed.Fields[0].Type)
	}
	wantAttrs := []any{"null", map[string]any{"type": "map", "values": []any{"null", "int"}}}
	if !reflect.DeepEqual(parsed.Fields[1].Type, wantAttrs) {
		t.Errorf("attrs type = %#v", parsed.Fields[1].Type)
	}

	if _, err := goavro.NewCodec(doc); err != nil {
		t.Errorf("goavro rejected schema: %v", err)
	}
}

func TestAvroEncoder_EncodeToBytes(t *testing.T) {
	for _, compression := range []string{"gzip", "deflate", "snappy", "uncompressed"} {
		t.Run(compression, func(t *testing.T) {
			enc, err := NewAvroEncoder(testSchema(), compression)
			if err != nil {
				t.Fatalf("NewAvroEncoder() error = %v", err)
			}

			data, err := enc.EncodeToBytes(append(testRecords(1), nullRecord()))
			if err != nil {
				t.Fatalf("EncodeToBytes() error = %v", err)
			}
			got := readAvro(t, data, compression == "gzip")
			if len(got) != 2 {
				t.Fatalf("read %d records, want 2", len(got))
			}

			first := got[0]
			checks := map[string]any{
				"id":      map[string]any{"long": int64(0)},
				"weight":  map[string]any{"double": 1.5},
				"price":   map[string]any{"string": "19.90"},
				"name":    map[string]any{"string": "it's"},
				"blob":    map[string]any{"bytes": []byte{0x00, 0xff}},
				"active":  map[string]any{"boolean": true},
				"day":     map[string]any{"int": int32(19791)},
				"at":      map[string]any{"long": int64(3723000004)},
				"created": map[string]any{"long": testTime.UnixMilli()},
				"tags": map[string]any{"array": []any{
					map[string]any{"string": "a"},
					nil,
				}},
				"attrs": map[string]any{"map": map[string]any{
					"x": map[string]any{"long": int64(1)},
					"y": nil,
				}},
				columnKafkaTopic:     "orders",
				columnKafkaPartition: int32(2),
				columnKafkaOffset:    int64(100),
			}
			for field, want := range checks {
				if !reflect.DeepEqual(first[field], want) {
					t.Errorf("%s = %#v, want %#v", field, first[field], want)
				}
			}

			for _, name := range testSchema().ColumnNames() {
				if got[1][name] != nil {
					t.Errorf("null record %s = %#v", name, got[1][name])
				}
			}
		})
	}
}

func TestAvroEncoder_Encode(t *testing.T) {
	enc, err := NewAvroEncoder(testSchema(), "gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "rows"+enc.FileExtension())
	stats, err := enc.Encode(path, testRecords(3))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if stats.RecordCount != 3 || stats.SizeBytes <= 0 {
		t.Errorf("stats = %+v", stats)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAvro(t, data, true); len(got) != 3 {
		t.Errorf("read %d records, want 3", len(got))
	}
}

func TestAvroEncoder_EncodeErrors(t *testing.T) {
	enc, err := NewAvroEncoder(testSchema(), "gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	if _, err := enc.EncodeToBytes(nil); err == nil {
		t.Error("expected error for empty records")
	}
	if _, err := enc.Encode(filepath.Join(t.TempDir(), "x.avro"), nil); err == nil {
		t.Error("expected error for empty records")
	}

	bad := testRecords(1)
	bad[0].Values[9] = "not a list"
	_, err = enc.EncodeToBytes(bad)
	if err == nil || !strings.Contains(err.Error(), "tags") {
		t.Errorf("EncodeToBytes() error = %v, want column name", err)
	}
}
