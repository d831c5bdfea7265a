package encoder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/jittakal/kafrowstore/pkg/encoder"
	"github.com/jittakal/kafrowstore/pkg/row"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*IDFEncoder)(nil)

// IDFEncoder writes the canonical text of each record, one row per line.
// The output can be replayed through the converter as is.
type IDFEncoder struct {
	compression string
}

// NewIDFEncoder creates a text encoder. Supported compressions are gzip and
// zstd; anything else writes plain text.
func NewIDFEncoder(compression string) *IDFEncoder {
	return &IDFEncoder{compression: strings.ToLower(compression)}
}

// Encode writes records to a text file.
func (e *IDFEncoder) Encode(filePath string, records []row.Record) (*row.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if err := e.EncodeTo(file, records); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return statFile(filePath, len(records))
}

// EncodeTo writes records to w using the configured compression. Records are
// checked before any compressor is started, and a started compressor is
// always closed.
func (e *IDFEncoder) EncodeTo(w io.Writer, records []row.Record) (err error) {
	for _, record := range records {
		if strings.Contains(record.Text, "\n") {
			return fmt.Errorf("record at offset %d contains a raw newline", record.Offset)
		}
	}

	var closer io.Closer
	switch e.compression {
	case "gzip":
		gz := gzip.NewWriter(w)
		w, closer = gz, gz
	case "zstd":
		zw, zerr := zstd.NewWriter(w)
		if zerr != nil {
			return fmt.Errorf("failed to create zstd writer: %w", zerr)
		}
		w, closer = zw, zw
	}
	if closer != nil {
		defer func() {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close %s writer: %w", e.compression, cerr)
			}
		}()
	}

	buf := bufio.NewWriter(w)
	for _, record := range records {
		buf.WriteString(record.Text)
		buf.WriteByte('\n')
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	return nil
}

// Format returns the file format.
func (e *IDFEncoder) Format() row.FileFormat {
	return row.FormatIDF
}

// FileExtension returns the file extension.
func (e *IDFEncoder) FileExtension() string {
	switch e.compression {
	case "gzip":
		return ".idf.gz"
	case "zstd":
		return ".idf.zst"
	}
	return ".idf"
}
