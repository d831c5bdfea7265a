package encoder

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/jittakal/kafrowstore/pkg/encoder"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      row.FileFormat
	compression string
	schema      *schema.Schema
}

// NewFactory creates a new encoder factory for rows of the given schema.
func NewFactory(format row.FileFormat, compression string, s *schema.Schema) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
		schema:      s,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case row.FormatParquet:
		return NewParquetEncoder(f.schema, f.compression)
	case row.FormatAvro:
		return NewAvroEncoder(f.schema, f.compression)
	case row.FormatIDF:
		return NewIDFEncoder(f.compression), nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []row.FileFormat {
	return []row.FileFormat{
		row.FormatParquet,
		row.FormatAvro,
		row.FormatIDF,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format row.FileFormat) []string {
	switch format {
	case row.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case row.FormatAvro:
		return []string{"uncompressed", "gzip", "deflate", "snappy"}
	case row.FormatIDF:
		return []string{"uncompressed", "gzip", "zstd"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format row.FileFormat) string {
	switch format {
	case row.FormatParquet:
		return "snappy"
	case row.FormatAvro, row.FormatIDF:
		return "gzip"
	default:
		return "uncompressed"
	}
}

// IsSupportedCompression reports whether compression is valid for format.
func IsSupportedCompression(format row.FileFormat, compression string) bool {
	for _, c := range SupportedCompressions(format) {
		if strings.EqualFold(c, compression) {
			return true
		}
	}
	return false
}

func statFile(filePath string, count int) (*row.FileStats, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	now := time.Now()
	return &row.FileStats{
		RecordCount:    count,
		SizeBytes:      fileInfo.Size(),
		FirstWriteTime: now,
		LastWriteTime:  now,
	}, nil
}

// recordName turns a schema name into a CamelCase record name.
func recordName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteByte('R')
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 || !isASCII(b.String()) {
		return "Row"
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
