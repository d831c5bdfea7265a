package encoder

import (
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/jittakal/kafrowstore/internal/idf"
	"github.com/jittakal/kafrowstore/pkg/encoder"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// Metadata columns appended to every Parquet and Avro file.
const (
	columnKafkaTopic     = "kafka_topic"
	columnKafkaPartition = "kafka_partition"
	columnKafkaOffset    = "kafka_offset"
	columnKafkaTimestamp = "kafka_timestamp"
	columnIngestedAt     = "ingested_at"
)

var metadataColumns = []string{
	columnKafkaTopic,
	columnKafkaPartition,
	columnKafkaOffset,
	columnKafkaTimestamp,
	columnIngestedAt,
}

var unixEpochDate = civil.Date{Year: 1970, Month: 1, Day: 1}

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// The Parquet schema is derived from the row schema: every row column becomes
// an optional leaf, compound columns are stored as their textual payload.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	rowSchema       *schema.Schema
	fileSchema      *parquet.Schema
	leafIndex       []int
	metaIndex       map[string]int
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder for rows of the given schema.
func NewParquetEncoder(s *schema.Schema, compression string) (*ParquetEncoder, error) {
	if s == nil || s.IsEmpty() {
		return nil, fmt.Errorf("parquet encoder requires a non-empty schema")
	}

	group := parquet.Group{}
	for _, col := range s.Columns {
		if _, dup := group[col.Name]; dup || isMetadataColumn(col.Name) {
			return nil, fmt.Errorf("column name %q collides with another parquet column", col.Name)
		}
		group[col.Name] = parquet.Optional(parquetNode(col))
	}
	group[columnKafkaTopic] = parquet.String()
	group[columnKafkaPartition] = parquet.Int(32)
	group[columnKafkaOffset] = parquet.Int(64)
	group[columnKafkaTimestamp] = parquet.Timestamp(parquet.Microsecond)
	group[columnIngestedAt] = parquet.Timestamp(parquet.Microsecond)

	fileSchema := parquet.NewSchema(recordName(s.Name), group)

	e := &ParquetEncoder{
		rowSchema:       s,
		fileSchema:      fileSchema,
		leafIndex:       make([]int, s.Len()),
		metaIndex:       make(map[string]int, len(metadataColumns)),
		compressionName: compression,
	}
	for i, col := range s.Columns {
		leaf, ok := fileSchema.Lookup(col.Name)
		if !ok {
			return nil, fmt.Errorf("parquet column %q not found in schema", col.Name)
		}
		e.leafIndex[i] = leaf.ColumnIndex
	}
	for _, name := range metadataColumns {
		leaf, ok := fileSchema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("parquet column %q not found in schema", name)
		}
		e.metaIndex[name] = leaf.ColumnIndex
	}
	return e, nil
}

// parquetNode maps a column type to its Parquet leaf.
func parquetNode(col *schema.Column) parquet.Node {
	switch col.Type {
	case schema.TypeFixedPoint:
		return parquet.Int(64)
	case schema.TypeFloatingPoint:
		return parquet.Leaf(parquet.DoubleType)
	case schema.TypeBinary:
		return parquet.Leaf(parquet.ByteArrayType)
	case schema.TypeBit:
		return parquet.Leaf(parquet.BooleanType)
	case schema.TypeDate:
		return parquet.Date()
	case schema.TypeTime:
		return parquet.Time(parquet.Microsecond)
	case schema.TypeDateTime:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		// Decimal, text-like and compound columns.
		return parquet.String()
	}
}

func isMetadataColumn(name string) bool {
	for _, m := range metadataColumns {
		if m == name {
			return true
		}
	}
	return false
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Schema returns the generated Parquet schema.
func (e *ParquetEncoder) Schema() *parquet.Schema {
	return e.fileSchema
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []row.Record) (*row.FileStats, error) {
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

	// Close file before getting stats to ensure all data is flushed
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return statFile(filePath, len(records))
}

func (e *ParquetEncoder) write(w io.Writer, records []row.Record) error {
	rows := make([]parquet.Row, len(records))
	for i, record := range records {
		r, err := e.convertToParquetRow(record)
		if err != nil {
			return fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		rows[i] = r
	}

	writer := parquet.NewWriter(
		w,
		e.fileSchema,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kafrowstore", "1.0", "0"),
	)
	if _, err := writer.WriteRows(rows); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// convertToParquetRow builds one flat row in column index order.
func (e *ParquetEncoder) convertToParquetRow(record row.Record) (parquet.Row, error) {
	if len(record.Values) != e.rowSchema.Len() {
		return nil, fmt.Errorf("record has %d values, schema has %d columns", len(record.Values), e.rowSchema.Len())
	}

	out := make(parquet.Row, len(e.fileSchema.Columns()))
	for i, col := range e.rowSchema.Columns {
		idx := e.leafIndex[i]
		v := record.Values[i]
		if v == nil {
			out[idx] = parquet.NullValue().Level(0, 0, idx)
			continue
		}
		pv, err := parquetValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		out[idx] = pv.Level(0, 1, idx)
	}

	meta := func(name string, v parquet.Value) {
		idx := e.metaIndex[name]
		out[idx] = v.Level(0, 0, idx)
	}
	meta(columnKafkaTopic, parquet.ByteArrayValue([]byte(record.Kafka.Topic)))
	meta(columnKafkaPartition, parquet.Int32Value(record.Kafka.Partition))
	meta(columnKafkaOffset, parquet.Int64Value(record.Kafka.Offset))
	meta(columnKafkaTimestamp, parquet.Int64Value(record.Kafka.Timestamp.UnixMicro()))
	meta(columnIngestedAt, parquet.Int64Value(record.ProcessedAt.UnixMicro()))

	return out, nil
}

// parquetValue converts a decoded value into the physical value of its leaf.
func parquetValue(col *schema.Column, v any) (parquet.Value, error) {
	switch col.Type {
	case schema.TypeFixedPoint:
		if n, ok := v.(int64); ok {
			return parquet.Int64Value(n), nil
		}
	case schema.TypeFloatingPoint:
		if f, ok := v.(float64); ok {
			return parquet.DoubleValue(f), nil
		}
	case schema.TypeDecimal:
		if _, ok := v.(decimal.Decimal); ok {
			s, err := idf.FormatValue(col, v)
			if err != nil {
				return parquet.Value{}, err
			}
			return parquet.ByteArrayValue([]byte(s)), nil
		}
	case schema.TypeText, schema.TypeEnum, schema.TypeUnknown:
		if s, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(s)), nil
		}
	case schema.TypeBinary:
		if b, ok := v.([]byte); ok {
			return parquet.ByteArrayValue(b), nil
		}
	case schema.TypeBit:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
	case schema.TypeDate:
		if d, ok := v.(civil.Date); ok {
			return parquet.Int32Value(int32(d.DaysSince(unixEpochDate))), nil
		}
	case schema.TypeTime:
		if t, ok := v.(civil.Time); ok {
			return parquet.Int64Value(microsOfDay(t)), nil
		}
	case schema.TypeDateTime:
		if ms, ok := epochMillis(v); ok {
			return parquet.Int64Value(ms), nil
		}
	case schema.TypeArray, schema.TypeSet, schema.TypeMap:
		payload, err := idf.FormatValue(col, v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ByteArrayValue([]byte(payload)), nil
	}
	return parquet.Value{}, fmt.Errorf("unexpected value of type %T for %s column", v, col.Type)
}

func microsOfDay(t civil.Time) int64 {
	return int64(t.Hour)*int64(time.Hour/time.Microsecond) +
		int64(t.Minute)*int64(time.Minute/time.Microsecond) +
		int64(t.Second)*int64(time.Second/time.Microsecond) +
		int64(t.Nanosecond/1000)
}

// epochMillis accepts zoned timestamps and civil date-times, the latter read
// as UTC.
func epochMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), true
	case civil.DateTime:
		return t.In(time.UTC).UnixMilli(), true
	}
	return 0, false
}

// Format returns the file format.
func (e *ParquetEncoder) Format() row.FileFormat {
	return row.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
