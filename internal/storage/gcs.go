package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
	"github.com/jittakal/kafrowstore/pkg/storage"
)

var _ storage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// objectWriterFunc opens a writer for the object attrs names. The returned
// writer finalises the upload on Close.
type objectWriterFunc func(ctx context.Context, bucket string, attrs gcs.ObjectAttrs) io.WriteCloser

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	uploader
	client    *gcs.Client
	newObject objectWriterFunc
	bucket    string
	mu        sync.Mutex
}

// clientOptions picks the credential source. Default credentials win over
// explicit JSON, which wins over a credentials file.
func clientOptions(cfg GCSConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.UseDefaultCredential:
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	ctx context.Context,
	cfg GCSConfig,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	client, err := gcs.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	newObject := func(ctx context.Context, bucket string, attrs gcs.ObjectAttrs) io.WriteCloser {
		ow := client.Bucket(bucket).Object(attrs.Name).NewWriter(ctx)
		ow.ContentType = attrs.ContentType
		ow.Metadata = attrs.Metadata
		return ow
	}

	w, err := newGCSWriter(newObject, cfg, s, format, compression, logger, metrics)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.client = client

	logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"format", format,
		"compression", compression,
	)
	return w, nil
}

func newGCSWriter(
	newObject objectWriterFunc,
	cfg GCSConfig,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	factory, err := newFactory(s, format, compression)
	if err != nil {
		return nil, err
	}
	return &GCSWriter{
		uploader:  uploader{backend: "gcs", factory: factory, logger: logger, metrics: metrics},
		newObject: newObject,
		bucket:    cfg.Bucket,
	}, nil
}

// Write encodes records to a temp file and copies it into a new object.
func (w *GCSWriter) Write(ctx context.Context, records []row.Record, path string, format row.FileFormat) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.write(ctx, records, format, func(ctx context.Context, file *os.File, staged *stagedFile) (string, error) {
		object := objectKey(path, "gs", staged.name)
		location := "gs://" + w.bucket + "/" + object

		// Cancelling the context aborts the object upload.
		uploadCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ow := w.newObject(uploadCtx, w.bucket, gcs.ObjectAttrs{
			Name:        object,
			ContentType: contentType(format),
			Metadata:    staged.metadata,
		})
		if _, err := io.Copy(ow, file); err != nil {
			cancel()
			_ = ow.Close()
			countError(w.metrics, "gcs", "upload")
			return "", &kerrors.StorageError{Operation: kerrors.OpUpload, Path: location, Err: err}
		}
		if err := ow.Close(); err != nil {
			countError(w.metrics, "gcs", "close")
			return "", &kerrors.StorageError{Operation: kerrors.OpUpload, Path: location, Err: err}
		}
		return location, nil
	})
}

// Close closes the GCS client.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
