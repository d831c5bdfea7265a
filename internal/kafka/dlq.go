package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
)

// Headers attached to every DLQ message.
const (
	HeaderErrorClass     = "error_class"
	HeaderFailureReason  = "failure_reason"
	HeaderOriginalTopic  = "original_topic"
	HeaderOriginalOffset = "original_offset"
	HeaderProcessorID    = "processor_id"
)

// DLQMessage is the JSON body of a message published to the dead letter queue.
// OriginalText is null when the rejected row was a null row.
type DLQMessage struct {
	OriginalText      *string   `json:"original_text"`
	OriginalKey       string    `json:"original_key,omitempty"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	ErrorClass        string    `json:"error_class"`
	FailureReason     string    `json:"failure_reason"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ProcessorID       string    `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// Topic returns the DLQ topic for a source topic.
func (c DLQConfig) Topic(sourceTopic string) string {
	return sourceTopic + c.TopicSuffix
}

// producerConfig is an idempotent acks=all producer. The pipeline commits
// past a rejected row only once its DLQ send has succeeded.
func (c DLQConfig) producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = maxRetries(c.MaxRetries)
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

func maxRetries(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

// DLQPublisher publishes rows that failed decoding to a dead letter queue
// named after the source topic plus TopicSuffix. A disabled publisher has no
// producer and drops everything.
type DLQPublisher struct {
	config      DLQConfig
	processorID string
	logger      *slog.Logger

	mu       sync.RWMutex
	producer sarama.SyncProducer
	closed   bool
}

// NewDLQPublisher connects a sync producer when the DLQ is enabled.
func NewDLQPublisher(
	bootstrapServers []string,
	security SecurityConfig,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	processorID string,
) (*DLQPublisher, error) {
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, processorID), nil
	}

	saramaConfig := dlqConfig.producerConfig()
	if err := configureSecurity(saramaConfig, security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created", "bootstrap_servers", bootstrapServers, "topic_suffix", dlqConfig.TopicSuffix)
	return newDLQPublisher(producer, dlqConfig, logger, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, config DLQConfig, logger *slog.Logger, processorID string) *DLQPublisher {
	return &DLQPublisher{producer: producer, config: config, logger: logger, processorID: processorID}
}

// Topic returns the DLQ topic for a source topic.
func (p *DLQPublisher) Topic(sourceTopic string) string {
	return p.config.Topic(sourceTopic)
}

// message builds the DLQ record for a rejected row. The source key is kept so
// DLQ messages stay partitioned like their source; keyless rows get a random
// key.
func (p *DLQPublisher) message(text *string, md row.KafkaMetadata, class, reason string, now time.Time) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(DLQMessage{
		OriginalText:      text,
		OriginalKey:       string(md.Key),
		OriginalTopic:     md.Topic,
		OriginalPartition: md.Partition,
		OriginalOffset:    md.Offset,
		ErrorClass:        class,
		FailureReason:     reason,
		FailureTimestamp:  now.UTC(),
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	key := md.Key
	if len(key) == 0 {
		key = []byte(uuid.NewString())
	}

	header := func(k, v string) sarama.RecordHeader {
		return sarama.RecordHeader{Key: []byte(k), Value: []byte(v)}
	}
	return &sarama.ProducerMessage{
		Topic: p.config.Topic(md.Topic),
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			header(HeaderErrorClass, class),
			header(HeaderFailureReason, reason),
			header(HeaderOriginalTopic, md.Topic),
			header(HeaderOriginalOffset, strconv.FormatInt(md.Offset, 10)),
			header(HeaderProcessorID, p.processorID),
		},
		Timestamp: now,
	}, nil
}

// Publish publishes the original row text with its failure class and reason.
// It is a no-op when the DLQ is disabled.
func (p *DLQPublisher) Publish(ctx context.Context, text *string, md row.KafkaMetadata, class, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case !p.config.Enabled:
		p.logger.Debug("DLQ disabled, dropping row", "topic", md.Topic, "offset", md.Offset, "class", class)
		return nil
	case p.closed:
		return errors.ErrConsumerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := p.message(text, md, class, reason, time.Now())
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ", "dlq_topic", msg.Topic, "source_offset", md.Offset, "error", err)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published row to DLQ",
		"dlq_topic", msg.Topic,
		"dlq_partition", partition,
		"dlq_offset", offset,
		"source", row.PartitionID{Topic: md.Topic, Partition: md.Partition}.String(),
		"source_offset", md.Offset,
		"class", class,
		"reason", reason,
	)
	return nil
}

// Close closes the producer. Calling it again is a no-op.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		p.logger.Error("error closing DLQ producer", "error", err)
		return err
	}
	p.logger.Info("DLQ publisher closed")
	return nil
}
