// Package kafka implements the Kafka transport: a consumer group producing
// textual rows and a dead letter queue publisher.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/consumer"
	"github.com/jittakal/kafrowstore/pkg/row"
)

var (
	_ consumer.Consumer           = (*SaramaConsumer)(nil)
	_ sarama.ConsumerGroupHandler = (*consumerGroupHandler)(nil)
	_ sarama.AccessTokenProvider  = (*MSKAccessTokenProvider)(nil)
	_ consumer.DLQPublisher       = (*DLQPublisher)(nil)
)

const (
	rowChannelSize   = 100
	errorChannelSize = 10
)

// ConsumerConfig configures the consumer group. Zero timeouts keep Sarama's
// defaults, except MaxPollIntervalMS which defaults to five minutes.
type ConsumerConfig struct {
	BootstrapServers    []string
	GroupID             string
	Security            SecurityConfig
	AutoOffsetReset     string
	EnableAutoCommit    bool
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
}

const defaultMaxProcessingTime = 5 * time.Minute

// millis converts a millisecond setting, keeping current when ms is not set.
func millis(ms int, current time.Duration) time.Duration {
	if ms <= 0 {
		return current
	}
	return time.Duration(ms) * time.Millisecond
}

// saramaConfig builds the consumer group configuration. Offsets are committed
// by the pipeline, so auto-commit stays off unless explicitly enabled.
func (c ConsumerConfig) saramaConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	cfg.Consumer.Offsets.Initial = offsetInitial(c.AutoOffsetReset)
	cfg.Consumer.Offsets.AutoCommit.Enable = c.EnableAutoCommit

	group := &cfg.Consumer.Group
	group.Session.Timeout = millis(c.SessionTimeoutMS, group.Session.Timeout)
	group.Heartbeat.Interval = millis(c.HeartbeatIntervalMS, group.Heartbeat.Interval)
	cfg.Consumer.MaxProcessingTime = millis(c.MaxPollIntervalMS, defaultMaxProcessingTime)

	if err := configureSecurity(cfg, c.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return cfg, nil
}

// MetricsCollector receives consumer group and offset metrics.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	ObserveCommitLatency(topic string, partition int32, duration float64)
	SetPartitionsAssigned(topic string, count float64)
	SetConsumerLag(topic string, partition int32, lag int64)
}

// SaramaConsumer is a consumer.Consumer backed by a Sarama consumer group.
// Every Kafka message becomes one row.ConsumedRow; a message without a value
// (a tombstone) is delivered as a null row.
type SaramaConsumer struct {
	group   sarama.ConsumerGroup
	config  ConsumerConfig
	logger  *slog.Logger
	metrics MetricsCollector
	ready   chan bool

	mu      sync.RWMutex
	topics  []string
	handler *consumerGroupHandler
	closed  bool
}

// NewSaramaConsumer connects to the brokers. The group is joined in Consume.
func NewSaramaConsumer(config ConsumerConfig, logger *slog.Logger, metrics MetricsCollector) (*SaramaConsumer, error) {
	saramaConfig, err := config.saramaConfig()
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"security_protocol", config.Security.Protocol,
		"auto_commit", config.EnableAutoCommit,
		"session_timeout", saramaConfig.Consumer.Group.Session.Timeout,
		"max_processing_time", saramaConfig.Consumer.MaxProcessingTime,
	)

	return &SaramaConsumer{
		group:   group,
		config:  config,
		logger:  logger,
		metrics: metrics,
		ready:   make(chan bool),
	}, nil
}

// Subscribe subscribes to the specified topics.
func (c *SaramaConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Consume starts consuming messages and returns channels for rows and errors.
// It blocks until the first session is set up or ctx is cancelled.
func (c *SaramaConsumer) Consume(ctx context.Context) (<-chan *row.ConsumedRow, <-chan error, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, errors.ErrConsumerClosed
	}
	topics := c.topics
	c.mu.RUnlock()

	if len(topics) == 0 {
		return nil, nil, fmt.Errorf("no topics subscribed")
	}

	rowChan := make(chan *row.ConsumedRow, rowChannelSize)
	errorChan := make(chan error, errorChannelSize)

	handler := newConsumerGroupHandler(c.logger, c.metrics, c.config.GroupID, rowChan, errorChan, c.ready)
	handler.autoCommit = c.config.EnableAutoCommit
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer close(rowChan)
		defer close(errorChan)

		for {
			// Consume returns on every rebalance and must be called again.
			if err := c.group.Consume(ctx, topics, handler); err != nil {
				c.logger.Error("consumer group error", "error", err)
				errorChan <- err
				return
			}
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled")
				return
			}
		}
	}()

	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("consumer group reported error", "error", err)
		}
	}()

	select {
	case <-c.ready:
	case <-stopped:
		if err, ok := <-errorChan; ok && err != nil {
			return nil, nil, fmt.Errorf("consumer group stopped before setup: %w", err)
		}
		return nil, nil, fmt.Errorf("consumer group stopped before setup")
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	c.logger.Info("kafka consumer started and ready")
	return rowChan, errorChan, nil
}

// Commit marks offset as processed on the live session and, with auto commit
// off, commits it. It fails when the partition is not currently claimed.
func (c *SaramaConsumer) Commit(ctx context.Context, partition row.PartitionID, offset int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}
	if c.handler == nil {
		return fmt.Errorf("commit %s: %w", partition, errors.ErrNoSession)
	}
	return c.handler.commitOffset(partition.Topic, partition.Partition, offset)
}

// Close closes the consumer and releases resources.
func (c *SaramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka consumer")

	if err := c.group.Close(); err != nil {
		c.logger.Error("error closing consumer group", "error", err)
		return err
	}

	c.logger.Info("kafka consumer closed")
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	logger         *slog.Logger
	metrics        MetricsCollector
	groupID        string
	rowChan        chan<- *row.ConsumedRow
	errorChan      chan<- error
	ready          chan bool
	readyOnce      sync.Once
	rebalanceStart time.Time
	autoCommit     bool

	sessionMu sync.RWMutex
	session   sarama.ConsumerGroupSession
}

func newConsumerGroupHandler(
	logger *slog.Logger,
	metrics MetricsCollector,
	groupID string,
	rowChan chan<- *row.ConsumedRow,
	errorChan chan<- error,
	ready chan bool,
) *consumerGroupHandler {
	return &consumerGroupHandler{
		logger:    logger,
		metrics:   metrics,
		groupID:   groupID,
		rowChan:   rowChan,
		errorChan: errorChan,
		ready:     ready,
	}
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()
	h.sessionMu.Lock()
	h.session = session
	h.sessionMu.Unlock()

	h.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if h.metrics != nil {
		h.metrics.IncRebalances(h.groupID)
		for topic, partitions := range session.Claims() {
			h.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}

	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.sessionMu.Lock()
	h.session = nil
	h.sessionMu.Unlock()

	if h.metrics != nil && !h.rebalanceStart.IsZero() {
		h.metrics.ObserveRebalanceDuration(h.groupID, time.Since(h.rebalanceStart).Seconds())
	}

	h.logger.Info("consumer group session cleanup", "member_id", session.MemberID())
	return nil
}

// ConsumeClaim forwards the messages of one partition as rows.
func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	topic := claim.Topic()
	partition := claim.Partition()

	h.logger.Info("started consuming partition",
		"topic", topic,
		"partition", partition,
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			h.logger.Debug("received kafka message",
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
				"value_size", len(message.Value),
				"tombstone", message.Value == nil,
			)

			msg := message
			consumed := messageToRow(msg, func() error {
				h.markAndCommit(session, msg.Topic, msg.Partition, msg.Offset)
				return nil
			})

			select {
			case h.rowChan <- consumed:
				if h.metrics != nil {
					h.metrics.IncMessagesConsumed(message.Topic, message.Partition)
					h.metrics.SetConsumerLag(message.Topic, message.Partition, claim.HighWaterMarkOffset()-message.Offset-1)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			h.logger.Info("session context done, stopping partition consumption",
				"topic", topic,
				"partition", partition,
			)
			return nil
		}
	}
}

// commitOffset commits on the session currently owned by the handler.
func (h *consumerGroupHandler) commitOffset(topic string, partition int32, offset int64) error {
	h.sessionMu.RLock()
	session := h.session
	h.sessionMu.RUnlock()

	if session == nil {
		return fmt.Errorf("commit %s-%d: %w", topic, partition, errors.ErrNoSession)
	}
	if !slices.Contains(session.Claims()[topic], partition) {
		return fmt.Errorf("commit %s-%d: partition not claimed: %w", topic, partition, errors.ErrNoSession)
	}
	h.markAndCommit(session, topic, partition, offset)
	return nil
}

// markAndCommit marks offset as consumed. Kafka stores the next offset to
// read, hence offset+1. Without auto commit marks are only flushed by Commit.
func (h *consumerGroupHandler) markAndCommit(session sarama.ConsumerGroupSession, topic string, partition int32, offset int64) {
	start := time.Now()
	session.MarkOffset(topic, partition, offset+1, "")
	if !h.autoCommit {
		session.Commit()
	}
	if h.metrics != nil {
		h.metrics.IncOffsetCommits(topic, partition, "success")
		h.metrics.ObserveCommitLatency(topic, partition, time.Since(start).Seconds())
	}
}

// messageToRow converts a Kafka message into a consumed row. A nil value is
// a null row; an empty non-nil value is the empty text.
func messageToRow(message *sarama.ConsumerMessage, commit func() error) *row.ConsumedRow {
	var text *string
	if message.Value != nil {
		s := string(message.Value)
		text = &s
	}

	var key []byte
	if message.Key != nil {
		key = append([]byte(nil), message.Key...)
	}

	return &row.ConsumedRow{
		Text: text,
		Metadata: row.KafkaMetadata{
			Topic:     message.Topic,
			Partition: message.Partition,
			Offset:    message.Offset,
			Key:       key,
			Headers:   extractHeaders(message.Headers),
			Timestamp: message.Timestamp,
		},
		CommitFunc: commit,
	}
}

// extractHeaders flattens record headers; a repeated key keeps its last value.
func extractHeaders(headers []*sarama.RecordHeader) map[string]string {
	result := make(map[string]string, len(headers))
	for _, header := range headers {
		if header == nil {
			continue
		}
		result[string(header.Key)] = string(header.Value)
	}
	return result
}
