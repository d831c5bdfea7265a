package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
	"github.com/jittakal/kafrowstore/pkg/storage"
)

var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration. ConnectionString,
// when set, is used as is.
type AzureConfig struct {
	AccountName      string
	AccountKey       string
	ContainerName    string
	Endpoint         string
	ConnectionString string
}

// blobUploader is the subset of azblob.Client used by AzureWriter.
type blobUploader interface {
	UploadFile(ctx context.Context, containerName string, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// AzureWriter implements storage.Writer for Azure Blob Storage.
type AzureWriter struct {
	uploader
	client        blobUploader
	containerName string
	mu            sync.Mutex
}

// connectionString builds the shared-key connection string for cfg.
func (cfg AzureConfig) connectionString() string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	w, err := newAzureWriter(client, cfg, s, format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", format,
		"compression", compression,
	)
	return w, nil
}

func newAzureWriter(
	client blobUploader,
	cfg AzureConfig,
	s *schema.Schema,
	format row.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	factory, err := newFactory(s, format, compression)
	if err != nil {
		return nil, err
	}
	return &AzureWriter{
		uploader:      uploader{backend: "azure", factory: factory, logger: logger, metrics: metrics},
		client:        client,
		containerName: cfg.ContainerName,
	}, nil
}

// Write encodes records to a temp file and uploads it as a block blob.
func (w *AzureWriter) Write(ctx context.Context, records []row.Record, path string, format row.FileFormat) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.write(ctx, records, format, func(ctx context.Context, file *os.File, staged *stagedFile) (string, error) {
		blobPath := objectKey(path, "wasbs", staged.name)
		ct := contentType(format)
		metadata := make(map[string]*string, len(staged.metadata))
		for k, v := range staged.metadata {
			metadata[k] = &v
		}

		_, err := w.client.UploadFile(ctx, w.containerName, blobPath, file, &azblob.UploadFileOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
			Metadata:    metadata,
		})
		if err != nil {
			countError(w.metrics, "azure", "upload")
			return "", &kerrors.StorageError{Operation: kerrors.OpUpload, Path: w.containerName + "/" + blobPath, Err: err}
		}
		return w.containerName + "/" + blobPath, nil
	})
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}
