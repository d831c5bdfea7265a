package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
	"github.com/jittakal/kafrowstore/pkg/storage"
)

var _ storage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// s3Uploader is the subset of manager.Uploader used by S3Writer.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Writer uploads each batch as one object through the multipart upload
// manager. Objects carry the Kafka range they hold as user metadata.
type S3Writer struct {
	uploader
	client      s3Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	mu          sync.Mutex
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	ctx context.Context,
	cfg S3Config,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	client := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	w, err := newS3Writer(client, cfg, s, format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	logger.Info("S3 writer created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"format", format,
		"compression", compression,
		"sse_enabled", cfg.SSEEnabled,
	)
	return w, nil
}

func newS3Writer(
	client s3Uploader,
	cfg S3Config,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	factory, err := newFactory(s, format, compression)
	if err != nil {
		return nil, err
	}

	return &S3Writer{
		uploader:    uploader{backend: "s3", factory: factory, logger: logger, metrics: metrics},
		client:      client,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
	}, nil
}

// Write encodes records to a temp file and uploads it below the routed path.
func (w *S3Writer) Write(ctx context.Context, records []row.Record, path string, format row.FileFormat) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.write(ctx, records, format, func(ctx context.Context, file *os.File, staged *stagedFile) (string, error) {
		key := objectKey(path, "s3", staged.name)
		input := &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(key),
			Body:        file,
			ContentType: aws.String(contentType(format)),
			Metadata:    staged.metadata,
		}
		w.encrypt(input)

		result, err := w.client.Upload(ctx, input)
		if err != nil {
			countError(w.metrics, "s3", "upload")
			return "", &kerrors.StorageError{Operation: kerrors.OpUpload, Path: "s3://" + w.bucket + "/" + key, Err: err}
		}
		return result.Location, nil
	})
}

// encrypt requests server-side encryption: SSE-KMS when a key is configured,
// SSE-S3 otherwise.
func (w *S3Writer) encrypt(input *s3.PutObjectInput) {
	switch {
	case !w.sseEnabled:
	case w.sseKMSKeyID != "":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(w.sseKMSKeyID)
	default:
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.logger.Info("closing S3 writer")
	return nil
}
