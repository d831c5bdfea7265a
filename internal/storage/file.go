package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jittakal/kafrowstore/internal/encoder"
	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
	"github.com/jittakal/kafrowstore/pkg/storage"
)

var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter writes files below BasePath. A file is encoded under a hidden
// temporary name in its target directory and renamed into place, so readers
// listing the directory never see a partial file.
type FileWriter struct {
	basePath string
	factory  *encoder.Factory
	logger   *slog.Logger
	metrics  MetricsCollector
	mu       sync.Mutex
}

// NewFileWriter creates BasePath and checks that the format and compression
// can be encoded.
func NewFileWriter(
	config FileConfig,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	factory, err := newFactory(s, format, compression)
	if err != nil {
		return nil, err
	}

	logger.Info("filesystem writer created", "base_path", config.BasePath, "format", format, "compression", compression)
	return &FileWriter{basePath: config.BasePath, factory: factory, logger: logger, metrics: metrics}, nil
}

// Write encodes records into a new file in the directory path routes to.
// path may carry the file:// scheme.
func (w *FileWriter) Write(ctx context.Context, records []row.Record, path string, format row.FileFormat) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	started := time.Now()
	enc, err := w.factory.CreateEncoder()
	if err != nil {
		countError(w.metrics, "file", "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	dir := filepath.Join(w.basePath, strings.TrimPrefix(path, "file://"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		countError(w.metrics, "file", "mkdir")
		return 0, &kerrors.StorageError{Operation: kerrors.OpCreate, Path: dir, Err: err}
	}

	name := newFileName(started, enc.FileExtension())
	final := filepath.Join(dir, name)
	partial := filepath.Join(dir, "."+name+".partial")

	stats, err := enc.Encode(partial, records)
	if err != nil {
		_ = os.Remove(partial)
		countError(w.metrics, "file", "encode")
		return 0, &kerrors.StorageError{Operation: kerrors.OpEncode, Path: final, Err: err}
	}
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		countError(w.metrics, "file", "rename")
		return 0, &kerrors.StorageError{Operation: kerrors.OpWrite, Path: final, Err: err}
	}

	w.logger.Info("wrote records to file",
		"path", final,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", format,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	recordWrite(w.metrics, "file", records, format, stats, started)
	return stats.SizeBytes, nil
}

// Close is a no-op; every Write completes its file.
func (w *FileWriter) Close() error {
	w.logger.Info("closing filesystem writer")
	return nil
}
