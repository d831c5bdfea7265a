// Package errors defines the pipeline's error types and sentinel errors.
//
// Codec errors live in pkg/idf. ValidationError carries one of them together
// with the Kafka position of the row that produced it.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/row"
)

var (
	ErrBufferFull     = errors.New("buffer is full")
	ErrConsumerClosed = errors.New("consumer is closed")
	ErrInvalidRow     = errors.New("invalid row")
	ErrNullRow        = errors.New("null row")
	ErrNoSession      = errors.New("no active consumer group session")
)

// Storage operations reported by StorageError.
const (
	OpCreate = "create"
	OpEncode = "encode"
	OpWrite  = "write"
	OpUpload = "upload"
)

// ProcessingError is returned by the pipeline when rows of a partition could
// neither be stored nor dead-lettered. Their offsets stay uncommitted.
type ProcessingError struct {
	PartitionID row.PartitionID
	Offset      int64
	Err         error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s at offset %d: %v", e.PartitionID, e.Offset, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsRetryable reports whether the underlying failure is.
func (e *ProcessingError) IsRetryable() bool { return IsRetryable(e.Err) }

// ValidationError is a row that violates the data contract. Err is the codec
// error from pkg/idf.
type ValidationError struct {
	PartitionID row.PartitionID
	Offset      int64
	Err         error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid row %s at offset %d (%s): %v", e.PartitionID, e.Offset, e.Class(), e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches ErrInvalidRow.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRow }

// Class returns the codec error class: "schema", "parse" or "type".
func (e *ValidationError) Class() string {
	if c := idf.Class(e.Err); c != "" {
		return c
	}
	return "unknown"
}

// IsRetryable is always false. A row that fails decoding fails again.
func (e *ValidationError) IsRetryable() bool { return false }

// StorageError is a failed storage operation on Path.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports true for I/O operations. Encoding the same rows fails
// the same way, and a cancelled operation is not retried.
func (e *StorageError) IsRetryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	switch e.Operation {
	case OpCreate, OpWrite, OpUpload:
		return true
	}
	return false
}

// CommitError is a failed offset commit.
type CommitError struct {
	PartitionID row.PartitionID
	Offset      int64
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s at offset %d: %v", e.PartitionID, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Retryable is implemented by errors that know whether a retry can succeed.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether err is worth retrying. Codec errors never are.
// A deadline hit by a single attempt is.
func IsRetryable(err error) bool {
	if err == nil || idf.Class(err) != "" {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
