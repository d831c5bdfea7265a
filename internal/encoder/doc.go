// Package encoder provides row encoding to various file formats.
//
// This package implements encoders for converting decoded row records into
// file formats suitable for storage and analytics, with configurable
// compression. Parquet and Avro layouts are generated from the row schema.
//
// # Supported Formats
//
//   - Parquet: Columnar format optimized for analytics and Athena queries
//   - Avro: Row-based format with embedded schema
//   - IDF: Canonical row text, one row per line
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(row.FormatParquet, "snappy", rowSchema)
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stats, err := enc.Encode(filePath, records)
//
// # Type Mapping
//
// Every schema column is nullable in both Parquet and Avro output:
//
//	FixedPoint     int64
//	FloatingPoint  double
//	Decimal        string (scale preserved)
//	Text/Enum      string
//	Binary         bytes
//	Bit            boolean
//	Date           int32 days since 1970-01-01
//	Time           int64 microseconds of the day
//	DateTime       int64 milliseconds since the epoch, UTC
//	Array/Set/Map  Parquet: the field text; Avro: nested array or map
//
// Kafka topic, partition, offset and timestamp plus the ingestion time are
// appended as required columns. A schema column using one of those names is
// rejected.
//
// # Compression Options
//
//	Parquet: "snappy", "gzip", "lz4", "zstd", "uncompressed"
//	Avro:    "gzip", "deflate", "snappy", "uncompressed"
//	IDF:     "gzip", "zstd", "uncompressed"
//
// # File Extensions
//
//	parquetEnc.FileExtension()  // ".parquet"
//	avroEnc.FileExtension()     // ".avro.gz" (with gzip)
//	idfEnc.FileExtension()      // ".idf.zst" (with zstd)
//
// # Thread Safety
//
// Encoder instances hold no per-call state and are safe for concurrent use.
package encoder
