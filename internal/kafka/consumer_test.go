package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/row"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	ctx    context.Context
	mu      sync.Mutex
	marked  []int64
	commits int
}

func (s *fakeSession) Claims() map[string][]int32              { return map[string][]int32{"orders": {0, 1}} }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}
func (s *fakeSession) MarkOffset(_ string, _ int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
	hwm      int64
}

func (c *fakeClaim) Topic() string                            { return "orders" }
func (c *fakeClaim) Partition() int32                         { return 1 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return c.hwm }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type recordingMetrics struct {
	mu         sync.Mutex
	consumed   int
	rebalances int
	lag        map[int32]int64
	assigned   map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{lag: map[int32]int64{}, assigned: map[string]float64{}}
}

func (m *recordingMetrics) IncMessagesConsumed(string, int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed++
}

func (m *recordingMetrics) IncRebalances(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebalances++
}

func (m *recordingMetrics) IncOffsetCommits(string, int32, string)      {}
func (m *recordingMetrics) ObserveRebalanceDuration(string, float64)    {}
func (m *recordingMetrics) ObserveCommitLatency(string, int32, float64) {}

func (m *recordingMetrics) SetPartitionsAssigned(topic string, count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[topic] = count
}

func (m *recordingMetrics) SetConsumerLag(_ string, partition int32, lag int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lag[partition] = lag
}

func TestOffsetInitial(t *testing.T) {
	tests := []struct {
		name   string
		offset string
		want   int64
	}{
		{"earliest", "earliest", sarama.OffsetOldest},
		{"latest", "latest", sarama.OffsetNewest},
		{"empty defaults to latest", "", sarama.OffsetNewest},
		{"unknown defaults to latest", "middle", sarama.OffsetNewest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsetInitial(tt.offset); got != tt.want {
				t.Errorf("offsetInitial(%q) = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestConsumerConfig_SaramaConfig(t *testing.T) {
	cfg, err := ConsumerConfig{
		BootstrapServers:    []string{"localhost:9092"},
		GroupID:             "test-group",
		AutoOffsetReset:     "earliest",
		SessionTimeoutMS:    6000,
		HeartbeatIntervalMS: 2000,
	}.saramaConfig()
	if err != nil {
		t.Fatalf("saramaConfig() error = %v", err)
	}

	if cfg.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Errorf("Offsets.Initial = %v, want OffsetOldest", cfg.Consumer.Offsets.Initial)
	}
	if cfg.Consumer.Group.Session.Timeout != 6*time.Second {
		t.Errorf("Session.Timeout = %v, want 6s", cfg.Consumer.Group.Session.Timeout)
	}
	if cfg.Consumer.Group.Heartbeat.Interval != 2*time.Second {
		t.Errorf("Heartbeat.Interval = %v, want 2s", cfg.Consumer.Group.Heartbeat.Interval)
	}
	if cfg.Consumer.MaxProcessingTime != 5*time.Minute {
		t.Errorf("MaxProcessingTime = %v, want 5m", cfg.Consumer.MaxProcessingTime)
	}
	if !cfg.Consumer.Return.Errors {
		t.Error("Consumer.Return.Errors should be enabled")
	}
	if cfg.Consumer.Offsets.AutoCommit.Enable {
		t.Error("auto commit should be off unless enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sarama config invalid: %v", err)
	}
}

func TestConsumerConfig_SaramaConfigDefaults(t *testing.T) {
	cfg, err := ConsumerConfig{GroupID: "g", MaxPollIntervalMS: 90000}.saramaConfig()
	if err != nil {
		t.Fatalf("saramaConfig() error = %v", err)
	}
	defaults := sarama.NewConfig()

	if cfg.Consumer.Group.Session.Timeout != defaults.Consumer.Group.Session.Timeout {
		t.Errorf("Session.Timeout = %v, want sarama default %v", cfg.Consumer.Group.Session.Timeout, defaults.Consumer.Group.Session.Timeout)
	}
	if cfg.Consumer.Group.Heartbeat.Interval != defaults.Consumer.Group.Heartbeat.Interval {
		t.Errorf("Heartbeat.Interval = %v, want sarama default", cfg.Consumer.Group.Heartbeat.Interval)
	}
	if cfg.Consumer.MaxProcessingTime != 90*time.Second {
		t.Errorf("MaxProcessingTime = %v, want 90s", cfg.Consumer.MaxProcessingTime)
	}
	if cfg.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Errorf("Offsets.Initial = %v, want OffsetNewest", cfg.Consumer.Offsets.Initial)
	}
}

func TestConsumerConfig_SaramaConfigInvalidSecurity(t *testing.T) {
	_, err := ConsumerConfig{
		GroupID:  "test-group",
		Security: SecurityConfig{Protocol: "INVALID"},
	}.saramaConfig()
	if err == nil {
		t.Error("saramaConfig() should reject an unknown security protocol")
	}
}

func TestMessageToRow(t *testing.T) {
	ts := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    []byte
		wantNull bool
		wantText string
	}{
		{"row", []byte("1,'a'"), false, "1,'a'"},
		{"empty value is the empty row", []byte{}, false, ""},
		{"tombstone is a null row", nil, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := []byte("k1")
			msg := &sarama.ConsumerMessage{
				Topic:     "orders",
				Partition: 3,
				Offset:    42,
				Key:       key,
				Value:     tt.value,
				Timestamp: ts,
				Headers: []*sarama.RecordHeader{
					{Key: []byte("source"), Value: []byte("cdc")},
					nil,
				},
			}

			got := messageToRow(msg, nil)

			if tt.wantNull {
				if got.Text != nil {
					t.Errorf("Text = %q, want nil", *got.Text)
				}
			} else {
				if got.Text == nil {
					t.Fatal("Text = nil, want a row")
				}
				if *got.Text != tt.wantText {
					t.Errorf("Text = %q, want %q", *got.Text, tt.wantText)
				}
			}

			md := got.Metadata
			if md.Topic != "orders" || md.Partition != 3 || md.Offset != 42 {
				t.Errorf("Metadata = %+v", md)
			}
			if !md.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %v, want %v", md.Timestamp, ts)
			}
			if md.Headers["source"] != "cdc" || len(md.Headers) != 1 {
				t.Errorf("Headers = %v", md.Headers)
			}

			key[0] = 'x'
			if string(md.Key) != "k1" {
				t.Errorf("Key = %q, want a copy of the message key", md.Key)
			}
		})
	}
}

func TestConsumerGroupHandler_ConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := make(chan *row.ConsumedRow, 10)
	errs := make(chan error, 1)
	ready := make(chan bool)
	metrics := newRecordingMetrics()

	handler := newConsumerGroupHandler(testLogger(), metrics, "test-group", rows, errs, ready)
	session := &fakeSession{ctx: ctx}

	if err := handler.Setup(session); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	select {
	case <-ready:
	default:
		t.Fatal("Setup() should close the ready channel")
	}
	// A second session must not close ready again.
	if err := handler.Setup(session); err != nil {
		t.Fatalf("second Setup() error = %v", err)
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3), hwm: 10}
	claim.messages <- &sarama.ConsumerMessage{Topic: "orders", Partition: 1, Offset: 5, Value: []byte("1")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "orders", Partition: 1, Offset: 6, Value: nil}
	close(claim.messages)

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}
	close(rows)

	var got []*row.ConsumedRow
	for r := range rows {
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Text == nil || *got[0].Text != "1" {
		t.Errorf("first row text = %v, want 1", got[0].Text)
	}
	if got[1].Text != nil {
		t.Errorf("second row should be null")
	}

	for _, r := range got {
		if err := r.CommitFunc(); err != nil {
			t.Errorf("CommitFunc() error = %v", err)
		}
	}
	// Kafka stores the next offset to read.
	if len(session.marked) != 2 || session.marked[0] != 6 || session.marked[1] != 7 {
		t.Errorf("marked offsets = %v, want [6 7]", session.marked)
	}
	if session.commits != 2 {
		t.Errorf("commits = %d, want 2 with auto commit off", session.commits)
	}

	if metrics.consumed != 2 {
		t.Errorf("consumed = %d, want 2", metrics.consumed)
	}
	if metrics.rebalances != 2 {
		t.Errorf("rebalances = %d, want 2", metrics.rebalances)
	}
	if metrics.assigned["orders"] != 2 {
		t.Errorf("partitions assigned = %v, want 2", metrics.assigned["orders"])
	}
	if metrics.lag[1] != 3 {
		t.Errorf("lag = %d, want 3", metrics.lag[1])
	}

	if err := handler.Cleanup(session); err != nil {
		t.Errorf("Cleanup() error = %v", err)
	}
}

func TestConsumerGroupHandler_ConsumeClaimStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rows := make(chan *row.ConsumedRow)
	handler := newConsumerGroupHandler(testLogger(), nil, "g", rows, make(chan error, 1), make(chan bool))
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	// Nobody reads rows, so the handler blocks until the session ends.
	claim.messages <- &sarama.ConsumerMessage{Topic: "orders", Offset: 1, Value: []byte("x")}

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(session, claim) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ConsumeClaim() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeClaim() did not return after the session ended")
	}
}

func TestSaramaConsumer_Commit(t *testing.T) {
	ctx := context.Background()
	c := &SaramaConsumer{logger: testLogger()}
	pid := row.PartitionID{Topic: "orders", Partition: 1}

	if err := c.Commit(ctx, pid, 41); !errors.Is(err, kerrors.ErrNoSession) {
		t.Fatalf("Commit() before Consume error = %v, want ErrNoSession", err)
	}

	c.handler = newConsumerGroupHandler(testLogger(), nil, "g", nil, nil, make(chan bool))
	if err := c.Commit(ctx, pid, 41); !errors.Is(err, kerrors.ErrNoSession) {
		t.Fatalf("Commit() without session error = %v, want ErrNoSession", err)
	}

	session := &fakeSession{ctx: ctx}
	if err := c.handler.Setup(session); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := c.Commit(ctx, pid, 41); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(session.marked) != 1 || session.marked[0] != 42 || session.commits != 1 {
		t.Errorf("marked = %v, commits = %d, want [42] and 1", session.marked, session.commits)
	}

	unclaimed := row.PartitionID{Topic: "orders", Partition: 5}
	if err := c.Commit(ctx, unclaimed, 1); !errors.Is(err, kerrors.ErrNoSession) {
		t.Errorf("Commit() on unclaimed partition error = %v, want ErrNoSession", err)
	}

	if err := c.handler.Cleanup(session); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if err := c.Commit(ctx, pid, 42); !errors.Is(err, kerrors.ErrNoSession) {
		t.Errorf("Commit() after Cleanup error = %v, want ErrNoSession", err)
	}

	c.closed = true
	if err := c.Commit(ctx, pid, 42); !errors.Is(err, kerrors.ErrConsumerClosed) {
		t.Errorf("Commit() after Close error = %v, want ErrConsumerClosed", err)
	}
}
