// Package consumer defines interfaces for Kafka row consumption.
//
// This package provides abstractions for consuming textual rows from Kafka
// and managing consumer lifecycle.
package consumer

import (
	"context"

	"github.com/jittakal/kafrowstore/pkg/row"
)

// Consumer reads textual rows from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming messages from subscribed topics.
	// Returns channels for rows and errors.
	Consume(ctx context.Context) (<-chan *row.ConsumedRow, <-chan error, error)

	// Commit commits the offset for a partition.
	Commit(ctx context.Context, partition row.PartitionID, offset int64) error

	// Close closes the consumer and releases resources.
	Close() error
}

// DLQPublisher publishes rows that failed decoding to a dead letter queue.
type DLQPublisher interface {
	// Publish sends the original row text to the DLQ with the error class
	// ("schema", "parse", "type") and reason.
	Publish(ctx context.Context, text *string, metadata row.KafkaMetadata, class, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
