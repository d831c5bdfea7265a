package row

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// KafkaMetadata contains Kafka-specific metadata for a row.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// PartitionID uniquely identifies a Kafka partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns a string representation of the partition ID in the format "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// Record is a decoded row ready for storage. Values follow the column order
// of the configured schema; Text is the canonical textual form of the same row.
type Record struct {
	Values      []any
	Text        string
	Kafka       KafkaMetadata
	Offset      int64
	ProcessedAt time.Time
}

// FileStats contains statistics about buffered rows.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
	FormatIDF     FileFormat = "idf"
)

// ConsumedRow is a textual row consumed from Kafka. Text is nil for a
// tombstone, which is a null row.
type ConsumedRow struct {
	Text       *string
	Metadata   KafkaMetadata
	CommitFunc func() error
}

// PartitionTime returns the time used to route the record. When col points at
// a Date or DateTime value that value is used, otherwise the Kafka timestamp.
// Civil dates and times are interpreted in UTC.
func (r *Record) PartitionTime(col int) time.Time {
	if col >= 0 && col < len(r.Values) {
		switch v := r.Values[col].(type) {
		case time.Time:
			return v
		case civil.DateTime:
			return v.In(time.UTC)
		case civil.Date:
			return v.In(time.UTC)
		}
	}
	return r.Kafka.Timestamp
}

// PartitionTimeUnix returns PartitionTime as Unix seconds.
func (r *Record) PartitionTimeUnix(col int) int64 {
	return r.PartitionTime(col).Unix()
}
