// Package buffer defines interfaces for row buffering operations.
//
// Buffers are used to batch rows before writing to storage,
// improving throughput and reducing storage operations.
package buffer

import (
	"github.com/jittakal/kafrowstore/pkg/row"
)

// Buffer manages buffering of rows before storage.
// All implementations must be thread-safe.
type Buffer interface {
	// Add adds a record to the buffer.
	// Returns an error if the buffer is full or capacity would be exceeded.
	Add(record row.Record) error

	// Drain removes and returns all records from the buffer.
	// The buffer is reset after draining.
	Drain() []row.Record

	// Stats returns current buffer statistics without modifying the buffer.
	Stats() row.FileStats

	// IsEmpty returns true if the buffer contains no records.
	IsEmpty() bool

	// Reset clears the buffer and resets all statistics.
	Reset()
}

// Manager creates and manages buffers for partitions.
type Manager interface {
	// GetOrCreate returns a buffer for the given partition,
	// creating one if it doesn't exist.
	GetOrCreate(partitionID row.PartitionID) Buffer

	// Partitions returns the partitions that currently hold a buffer.
	Partitions() []row.PartitionID

	// Remove drops the buffer of a partition and returns its records.
	Remove(partitionID row.PartitionID) []row.Record
}
