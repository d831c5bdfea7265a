// Package row defines the record types that move through the pipeline.
//
// A ConsumedRow carries one textual row as read from Kafka. After decoding it
// becomes a Record holding both the typed values and the canonical text:
//
//	record := row.Record{
//	    Values: []any{int64(42), "widget"},
//	    Text:   "42,'widget'",
//	    Kafka: row.KafkaMetadata{
//	        Topic:     "orders",
//	        Partition: 0,
//	        Offset:    12345,
//	        Timestamp: time.Now(),
//	    },
//	}
//
// # Partition Identification
//
// PartitionID uniquely identifies a Kafka topic partition:
//
//	pid := row.PartitionID{Topic: "orders", Partition: 5}
//	key := pid.String() // "orders-5"
//
// # File Formats
//
//	row.FormatParquet  // Columnar format for analytics
//	row.FormatAvro     // Row-based format with schema
//	row.FormatIDF      // Canonical textual rows, one per line
//
// # Time Utilities
//
// PartitionTime picks the time a record is routed by: a Date or DateTime
// column when one is configured, otherwise the Kafka message timestamp.
package row
