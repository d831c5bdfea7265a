package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jittakal/kafrowstore/internal/config/dto"
	"github.com/jittakal/kafrowstore/internal/storage"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
	pkgstorage "github.com/jittakal/kafrowstore/pkg/storage"
)

func storageProtocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

// storageBucket is the first path segment after the scheme. The file backend
// has none; FileWriter joins routed paths onto its own base path.
func storageBucket(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.Bucket
	case "azure":
		return cfg.Storage.Azure.Container
	case "gcs":
		return cfg.Storage.GCS.Bucket
	default:
		return ""
	}
}

func storageBasePath(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.BasePath
	case "azure":
		return cfg.Storage.Azure.BasePath
	case "gcs":
		return cfg.Storage.GCS.BasePath
	default:
		return ""
	}
}

func newWriter(
	ctx context.Context,
	cfg *dto.ApplicationConfig,
	s *schema.Schema,
	format row.FileFormat,
	logger *slog.Logger,
	metrics storage.MetricsCollector,
) (pkgstorage.Writer, error) {
	compression := cfg.Storage.Compression

	switch cfg.Storage.Backend {
	case "file":
		w, err := storage.NewFileWriter(storage.FileConfig{
			BasePath: cfg.Storage.File.BasePath,
		}, s, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return w, nil

	case "s3":
		w, err := storage.NewS3Writer(ctx, storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
		}, s, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return w, nil

	case "azure":
		w, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:      cfg.Storage.Azure.AccountName,
			AccountKey:       cfg.Storage.Azure.AccountKey,
			ContainerName:    cfg.Storage.Azure.Container,
			Endpoint:         cfg.Storage.Azure.Endpoint,
			ConnectionString: cfg.Storage.Azure.ConnectionString,
		}, s, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return w, nil

	case "gcs":
		w, err := storage.NewGCSWriter(ctx, storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      cfg.Storage.GCS.CredentialsJSON,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, s, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return w, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Storage.Backend)
	}
}
