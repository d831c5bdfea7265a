package encoder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/linkedin/goavro/v2"
	"github.com/shopspring/decimal"

	"github.com/jittakal/kafrowstore/internal/idf"
	"github.com/jittakal/kafrowstore/pkg/encoder"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

const avroNamespace = "com.kafrowstore.row"

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// AvroEncoder implements encoder.Encoder for Apache Avro binary format.
// The record schema is generated from the row schema with every column
// nullable. Produces OCF (Object Container File) format compatible with
// Apache Spark and other Avro readers. Gzip wraps the whole container;
// deflate and snappy use the OCF block codecs.
type AvroEncoder struct {
	rowSchema   *schema.Schema
	fieldNames  []string
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder for rows of the given schema.
func NewAvroEncoder(s *schema.Schema, compression string) (*AvroEncoder, error) {
	if s == nil || s.IsEmpty() {
		return nil, fmt.Errorf("avro encoder requires a non-empty schema")
	}

	fieldNames := make([]string, s.Len())
	seen := make(map[string]bool, s.Len()+len(metadataColumns))
	for _, name := range metadataColumns {
		seen[name] = true
	}
	for i, col := range s.Columns {
		name := avroName(col.Name)
		if seen[name] {
			return nil, fmt.Errorf("column name %q collides with another avro field", col.Name)
		}
		seen[name] = true
		fieldNames[i] = name
	}

	schemaJSON, err := AvroSchema(s)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		rowSchema:   s,
		fieldNames:  fieldNames,
		codec:       codec,
		compression: strings.ToLower(compression),
	}, nil
}

// avroName maps a column name onto the Avro name grammar.
func avroName(name string) string {
	out := invalidAvroName.ReplaceAllString(name, "_")
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}

// AvroSchema returns the Avro record schema for rows of s.
func AvroSchema(s *schema.Schema) (string, error) {
	fields := make([]map[string]any, 0, s.Len()+len(metadataColumns))
	for _, col := range s.Columns {
		fields = append(fields, map[string]any{
			"name":    avroName(col.Name),
			"type":    []any{"null", avroType(col)},
			"default": nil,
		})
	}
	fields = append(fields,
		map[string]any{"name": columnKafkaTopic, "type": "string"},
		map[string]any{"name": columnKafkaPartition, "type": "int"},
		map[string]any{"name": columnKafkaOffset, "type": "long"},
		map[string]any{"name": columnKafkaTimestamp, "type": "long"},
		map[string]any{"name": columnIngestedAt, "type": "long"},
	)

	b, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      recordName(s.Name),
		"namespace": avroNamespace,
		"fields":    fields,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render avro schema: %w", err)
	}
	return string(b), nil
}

// avroType returns the Avro type of a column's non-null values. Dates are
// days since the epoch, times are microseconds of the day and date-times
// are milliseconds since the epoch.
func avroType(col *schema.Column) any {
	switch col.Type {
	case schema.TypeFixedPoint, schema.TypeTime, schema.TypeDateTime:
		return "long"
	case schema.TypeFloatingPoint:
		return "double"
	case schema.TypeBinary:
		return "bytes"
	case schema.TypeBit:
		return "boolean"
	case schema.TypeDate:
		return "int"
	case schema.TypeArray, schema.TypeSet:
		return map[string]any{"type": "array", "items": []any{"null", avroType(col.Element)}}
	case schema.TypeMap:
		return map[string]any{"type": "map", "values": []any{"null", avroType(col.Value)}}
	default:
		return "string"
	}
}

// avroUnionName is the branch name goavro expects for a union value.
func avroUnionName(col *schema.Column) string {
	switch t := avroType(col).(type) {
	case string:
		return t
	case map[string]any:
		return t["type"].(string)
	}
	return "string"
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []row.Record) (*row.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if err := e.write(file, records); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return statFile(filePath, len(records))
}

// EncodeToBytes encodes records to bytes (useful for testing).
func (e *AvroEncoder) EncodeToBytes(records []row.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(w io.Writer, records []row.Record) error {
	var gzipWriter *gzip.Writer
	if e.compression == "gzip" {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           e.codec,
		CompressionName: e.blockCompression(),
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	for i, record := range records {
		avroMap, err := e.convertToAvroMap(record)
		if err != nil {
			return fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		if err := ocfWriter.Append([]any{avroMap}); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

func (e *AvroEncoder) blockCompression() string {
	switch e.compression {
	case "deflate":
		return goavro.CompressionDeflateLabel
	case "snappy":
		return goavro.CompressionSnappyLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// convertToAvroMap converts a Record to Avro map representation.
func (e *AvroEncoder) convertToAvroMap(record row.Record) (map[string]any, error) {
	if len(record.Values) != e.rowSchema.Len() {
		return nil, fmt.Errorf("record has %d values, schema has %d columns", len(record.Values), e.rowSchema.Len())
	}

	avroMap := make(map[string]any, len(record.Values)+len(metadataColumns))
	for i, col := range e.rowSchema.Columns {
		v, err := avroValue(col, record.Values[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		avroMap[e.fieldNames[i]] = v
	}
	avroMap[columnKafkaTopic] = record.Kafka.Topic
	avroMap[columnKafkaPartition] = record.Kafka.Partition
	avroMap[columnKafkaOffset] = record.Kafka.Offset
	avroMap[columnKafkaTimestamp] = record.Kafka.Timestamp.UnixMilli()
	avroMap[columnIngestedAt] = record.ProcessedAt.UnixMilli()
	return avroMap, nil
}

// avroValue wraps a decoded value in the union branch of its column.
func avroValue(col *schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	var out any
	switch col.Type {
	case schema.TypeArray, schema.TypeSet:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected value of type %T for %s column", v, col.Type)
		}
		list := make([]any, len(items))
		for i, item := range items {
			av, err := avroValue(col.Element, item)
			if err != nil {
				return nil, err
			}
			list[i] = av
		}
		out = list

	case schema.TypeMap:
		entries, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected value of type %T for %s column", v, col.Type)
		}
		m := make(map[string]any, len(entries))
		for k, item := range entries {
			av, err := avroValue(col.Value, item)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		out = m

	default:
		scalar, err := avroScalar(col, v)
		if err != nil {
			return nil, err
		}
		out = scalar
	}
	return goavro.Union(avroUnionName(col), out), nil
}

func avroScalar(col *schema.Column, v any) (any, error) {
	switch x := v.(type) {
	case int64, float64, bool, []byte:
		return x, nil
	case string:
		return x, nil
	case decimal.Decimal:
		return idf.FormatValue(col, x)
	case civil.Date:
		return int32(x.DaysSince(unixEpochDate)), nil
	case civil.Time:
		return microsOfDay(x), nil
	}
	if ms, ok := epochMillis(v); ok {
		return ms, nil
	}
	// Anything else is rendered as its field text.
	s, err := idf.FormatValue(col, v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() row.FileFormat {
	return row.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.compression == "gzip" {
		return ".avro.gz"
	}
	return ".avro"
}
