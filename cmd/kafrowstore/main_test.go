package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kafrowstore/internal/config/dto"
	"github.com/jittakal/kafrowstore/internal/observability"
	"github.com/jittakal/kafrowstore/internal/storage"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins", "/etc/flag.yaml", "/etc/env.yaml", "/etc/flag.yaml"},
		{"env", "", "/etc/env.yaml", "/etc/env.yaml"},
		{"default", "", "", "config/application.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", tt.env)
			if got := configPath(tt.flag); got != tt.want {
				t.Errorf("configPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStorageLocation(t *testing.T) {
	cfg := &dto.ApplicationConfig{Storage: dto.StorageConfig{
		S3:    dto.S3Config{Bucket: "s3-rows", BasePath: "raw"},
		Azure: dto.AzureConfig{Container: "rows", BasePath: "landing"},
		GCS:   dto.GCSConfig{Bucket: "gcs-rows", BasePath: "lake"},
		File:  dto.FileConfig{BasePath: "/data"},
	}}

	tests := []struct {
		backend  string
		protocol string
		bucket   string
		basePath string
	}{
		{"s3", "s3", "s3-rows", "raw"},
		{"azure", "wasbs", "rows", "landing"},
		{"gcs", "gs", "gcs-rows", "lake"},
		{"file", "file", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg.Storage.Backend = tt.backend
			if got := storageProtocol(tt.backend); got != tt.protocol {
				t.Errorf("storageProtocol() = %q, want %q", got, tt.protocol)
			}
			if got := storageBucket(cfg); got != tt.bucket {
				t.Errorf("storageBucket() = %q, want %q", got, tt.bucket)
			}
			if got := storageBasePath(cfg); got != tt.basePath {
				t.Errorf("storageBasePath() = %q, want %q", got, tt.basePath)
			}
		})
	}
}

func TestProcessorConfig(t *testing.T) {
	cfg := &dto.ApplicationConfig{
		Storage:    dto.StorageConfig{Format: "avro"},
		Processing: dto.ProcessingConfig{BufferFlushIntervalSec: 60},
		Retry: dto.RetryConfig{
			MaxAttempts:       5,
			InitialBackoffMS:  100,
			MaxBackoffMS:      30000,
			BackoffMultiplier: 2,
			EnableJitter:      true,
		},
		Shutdown: dto.ShutdownConfig{GracePeriodSeconds: 30},
	}

	got := processorConfig(cfg, 3)

	if got.Format != row.FormatAvro || got.PartitionColumn != 3 {
		t.Errorf("format/column = %s/%d", got.Format, got.PartitionColumn)
	}
	if got.FlushInterval != time.Minute || got.ShutdownTimeout != 30*time.Second {
		t.Errorf("intervals = %v/%v", got.FlushInterval, got.ShutdownTimeout)
	}
	if got.Retry.InitialBackoff != 100*time.Millisecond || got.Retry.MaxBackoff != 30*time.Second || !got.Retry.Jitter {
		t.Errorf("retry = %+v", got.Retry)
	}
}

func TestNewWriter(t *testing.T) {
	s := schema.NewSchema("orders").AddColumn(schema.NewFixedPoint("id"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	t.Run("file", func(t *testing.T) {
		cfg := &dto.ApplicationConfig{Storage: dto.StorageConfig{
			Backend:     "file",
			Compression: "gzip",
			File:        dto.FileConfig{BasePath: t.TempDir()},
		}}
		w, err := newWriter(context.Background(), cfg, s, row.FormatIDF, logger, metrics)
		if err != nil {
			t.Fatalf("newWriter() error = %v", err)
		}
		if _, ok := w.(*storage.FileWriter); !ok {
			t.Errorf("newWriter() = %T, want *storage.FileWriter", w)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := &dto.ApplicationConfig{Storage: dto.StorageConfig{Backend: "ftp"}}
		if _, err := newWriter(context.Background(), cfg, s, row.FormatIDF, logger, metrics); err == nil {
			t.Error("newWriter() should reject an unknown backend")
		}
	})
}
