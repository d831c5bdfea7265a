// Package encoder defines interfaces for encoding rows to various file formats.
package encoder

import "github.com/jittakal/kafrowstore/pkg/row"

// Encoder encodes records to a specific file format.
type Encoder interface {
	// Encode writes records to a file and returns file statistics.
	Encode(filePath string, records []row.Record) (*row.FileStats, error)

	// Format returns the file format this encoder produces.
	Format() row.FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string
}
