// Package storage defines interfaces for row storage operations.
//
// This package provides abstractions for writing rows to various
// storage backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"

	"github.com/jittakal/kafrowstore/pkg/row"
)

// Writer writes row records to storage.
type Writer interface {
	// Write writes records to storage at the specified path.
	// Returns the number of bytes written.
	Write(ctx context.Context, records []row.Record, path string, format row.FileFormat) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for rows based on partitioning strategy.
type Router interface {
	// Route returns the storage path for a partition at a given time.
	// timestamp is a Unix timestamp (seconds), usually Record.PartitionTimeUnix.
	Route(partitionID row.PartitionID, timestamp int64) string
}

// RotationPolicy determines when to rotate (flush) buffered rows to storage.
type RotationPolicy interface {
	// ShouldRotate returns true if the buffer should be flushed based on stats.
	ShouldRotate(stats row.FileStats) bool
}
