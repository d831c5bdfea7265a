// Package storage implements storage writers, routing and rotation.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/kafrowstore/internal/encoder"
	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(topic string, partition int32, format string, status string)
	ObserveFileSize(topic string, partition int32, format string, size float64)
	ObserveStorageWriteDuration(topic string, partition int32, duration float64)
	ObserveFileWriteDuration(backend, format string, duration float64)
	IncStorageErrors(backend string, operation string)
}

// stagedFile is an encoded batch waiting in the temp directory for upload.
type stagedFile struct {
	path     string
	name     string
	stats    *row.FileStats
	metadata map[string]string
}

// remove deletes the staged file. Errors are ignored; the file lives in the
// temp directory.
func (f *stagedFile) remove() {
	_ = os.Remove(f.path)
}

// newFileName returns rows_YYYYMMDD_HHMMSS_<id><ext>. The short uuid keeps
// names unique across writers flushing in the same second.
func newFileName(now time.Time, ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("rows_%s_%s%s", now.UTC().Format("20060102_150405"), id, ext)
}

// stage encodes records into a uniquely named temp file.
func stage(backend string, factory *encoder.Factory, records []row.Record, metrics MetricsCollector) (*stagedFile, error) {
	enc, err := factory.CreateEncoder()
	if err != nil {
		countError(metrics, backend, "encoder_create")
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	ext := enc.FileExtension()
	tempFile := filepath.Join(os.TempDir(), fmt.Sprintf("%s-upload-%s%s", backend, uuid.NewString(), ext))

	stats, err := enc.Encode(tempFile, records)
	if err != nil {
		_ = os.Remove(tempFile)
		countError(metrics, backend, "encode")
		return nil, &kerrors.StorageError{Operation: kerrors.OpEncode, Path: tempFile, Err: err}
	}

	return &stagedFile{
		path:     tempFile,
		name:     newFileName(time.Now(), ext),
		stats:    stats,
		metadata: objectMetadata(records),
	}, nil
}

// objectMetadata describes the Kafka range an object holds. Keys are lower
// case with underscores, which S3, GCS and Azure all store unchanged.
func objectMetadata(records []row.Record) map[string]string {
	first, last := records[0], records[len(records)-1]
	return map[string]string{
		"kafka_topic":     first.Kafka.Topic,
		"kafka_partition": strconv.FormatInt(int64(first.Kafka.Partition), 10),
		"first_offset":    strconv.FormatInt(first.Offset, 10),
		"last_offset":     strconv.FormatInt(last.Offset, 10),
		"row_count":       strconv.Itoa(len(records)),
	}
}

// objectKey strips scheme://bucket/ from a routed path and appends name.
// Paths without the scheme are used as is.
func objectKey(path, scheme, name string) string {
	key := path
	if strings.HasPrefix(path, scheme+"://") {
		parts := strings.SplitN(strings.TrimPrefix(path, scheme+"://"), "/", 2)
		if len(parts) == 2 {
			key = parts[1]
		} else {
			key = ""
		}
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return strings.TrimPrefix(key+name, "/")
}

func countError(metrics MetricsCollector, backend, operation string) {
	if metrics != nil {
		metrics.IncStorageErrors(backend, operation)
	}
}

// recordWrite updates the success metrics for one written file.
func recordWrite(metrics MetricsCollector, backend string, records []row.Record, format row.FileFormat, stats *row.FileStats, started time.Time) {
	if metrics == nil || len(records) == 0 {
		return
	}
	duration := time.Since(started).Seconds()
	topic := records[0].Kafka.Topic
	partition := records[0].Kafka.Partition

	metrics.IncFilesWritten(topic, partition, string(format), "success")
	metrics.ObserveFileSize(topic, partition, string(format), float64(stats.SizeBytes))
	metrics.ObserveStorageWriteDuration(topic, partition, duration)
	metrics.ObserveFileWriteDuration(backend, string(format), duration)
}

// contentType returns the MIME type stored with uploaded objects.
func contentType(format row.FileFormat) string {
	switch format {
	case row.FormatAvro:
		return "application/avro"
	case row.FormatIDF:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// newFactory returns an encoder factory after checking that it can build an
// encoder for s.
func newFactory(s *schema.Schema, format row.FileFormat, compression string) (*encoder.Factory, error) {
	factory := encoder.NewFactory(format, compression, s)
	if _, err := factory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return factory, nil
}

// putFunc uploads a staged file and returns the location it landed at.
// Failures are returned as *errors.StorageError.
type putFunc func(ctx context.Context, file *os.File, staged *stagedFile) (string, error)

// uploader is the part every object-store writer shares: stage the batch in
// a temp file, hand it to put, then log and record the write.
type uploader struct {
	backend string
	factory *encoder.Factory
	logger  *slog.Logger
	metrics MetricsCollector
}

func (u *uploader) write(ctx context.Context, records []row.Record, format row.FileFormat, put putFunc) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	started := time.Now()
	staged, err := stage(u.backend, u.factory, records, u.metrics)
	if err != nil {
		return 0, err
	}
	defer staged.remove()

	file, err := os.Open(staged.path)
	if err != nil {
		countError(u.metrics, u.backend, "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	location, err := put(ctx, file, staged)
	if err != nil {
		return 0, err
	}

	u.logger.Info("uploaded rows",
		"backend", u.backend,
		"location", location,
		"record_count", staged.stats.RecordCount,
		"file_size", staged.stats.SizeBytes,
		"format", format,
		"first_offset", staged.metadata["first_offset"],
		"last_offset", staged.metadata["last_offset"],
		"duration_ms", time.Since(started).Milliseconds(),
	)
	recordWrite(u.metrics, u.backend, records, format, staged.stats, started)
	return staged.stats.SizeBytes, nil
}
