// Package pipeline moves consumed rows through decoding, buffering and
// storage. Offsets are committed only once the rows they cover are stored
// or dead-lettered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	kerrors "github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/internal/observability"
	"github.com/jittakal/kafrowstore/internal/server"
	"github.com/jittakal/kafrowstore/pkg/buffer"
	"github.com/jittakal/kafrowstore/pkg/consumer"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/storage"
)

// StorageComponent is the health component updated after every flush.
const StorageComponent = "storage"

// ClassStorage and ClassOversize label rows dead-lettered for reasons other
// than decoding.
const (
	ClassStorage  = "storage"
	ClassOversize = "oversize"
)

// Config controls batching and retry behaviour.
type Config struct {
	Format row.FileFormat
	// PartitionColumn is the index of the Date or DateTime column used for
	// routing. A negative value routes by Kafka timestamp.
	PartitionColumn int
	// FlushInterval flushes buffers whose first row is at least this old.
	FlushInterval   time.Duration
	ShutdownTimeout time.Duration
	Retry           RetryConfig
}

// RetryConfig configures exponential backoff for retryable storage errors.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// backoff returns the wait after the given failed attempt (1-based).
// rnd is in [0, 1) and only used with jitter.
func (c RetryConfig) backoff(attempt int, rnd float64) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= mult
		if c.MaxBackoff > 0 && d >= float64(c.MaxBackoff) {
			break
		}
	}
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter {
		d = d/2 + rnd*d/2
	}
	return time.Duration(d)
}

// RowValidator decodes a consumed row into a record.
type RowValidator interface {
	Validate(consumed *row.ConsumedRow) (*row.Record, error)
}

// HealthReporter receives component status updates.
type HealthReporter interface {
	SetComponent(name, status string)
}

// MetricsCollector records pipeline outcomes.
type MetricsCollector interface {
	IncNullRows(topic string)
	IncDLQPublished(topic, class, status string)
	IncRowsProcessed(topic string, partition int32, status string)
	ObserveProcessingDuration(topic, operation string, d time.Duration)
	SetBufferState(topic string, partition int32, records int, sizeBytes int64)
}

// Components are the collaborators of a Processor. DLQ may be nil, in which
// case invalid rows are dropped and failed batches are not committed.
type Components struct {
	Validator RowValidator
	Buffers   buffer.Manager
	Writer    storage.Writer
	Router    storage.Router
	Policy    storage.RotationPolicy
	DLQ       consumer.DLQPublisher
	Health    HealthReporter
	Metrics   MetricsCollector
}

type pendingCommit struct {
	offset int64
	commit func() error
}

// Processor is the single-goroutine consume loop. It is not safe for
// concurrent use.
type Processor struct {
	config    Config
	validator RowValidator
	buffers   buffer.Manager
	writer    storage.Writer
	router    storage.Router
	policy    storage.RotationPolicy
	dlq       consumer.DLQPublisher
	health    HealthReporter
	metrics   MetricsCollector
	logger    *slog.Logger

	// pending holds the newest offset per partition whose commit waits for
	// the buffered rows before it to be stored.
	pending map[row.PartitionID]pendingCommit

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewProcessor creates a processor. Every component except DLQ is required.
func NewProcessor(config Config, c Components, logger *slog.Logger) (*Processor, error) {
	switch {
	case c.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case c.Buffers == nil:
		return nil, fmt.Errorf("buffer manager is required")
	case c.Writer == nil:
		return nil, fmt.Errorf("storage writer is required")
	case c.Router == nil:
		return nil, fmt.Errorf("router is required")
	case c.Policy == nil:
		return nil, fmt.Errorf("rotation policy is required")
	case c.Health == nil:
		return nil, fmt.Errorf("health reporter is required")
	case c.Metrics == nil:
		return nil, fmt.Errorf("metrics collector is required")
	}

	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry.MaxAttempts = 1
	}

	return &Processor{
		config:    config,
		validator: c.Validator,
		buffers:   c.Buffers,
		writer:    c.Writer,
		router:    c.Router,
		policy:    c.Policy,
		dlq:       c.DLQ,
		health:    c.Health,
		metrics:   c.Metrics,
		logger:    logger,
		pending:   make(map[row.PartitionID]pendingCommit),
		now:       time.Now,
		sleep:     sleepContext,
		rand:      rand.Float64,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run processes rows until ctx is cancelled or rows is closed, then flushes
// every buffer within the shutdown timeout. Consumer errors are logged.
func (p *Processor) Run(ctx context.Context, rows <-chan *row.ConsumedRow, errs <-chan error) error {
	var tick <-chan time.Time
	if p.config.FlushInterval > 0 {
		ticker := time.NewTicker(p.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, stopping processing")
			return p.shutdown(ctx)

		case <-tick:
			if err := p.FlushDue(ctx); err != nil {
				return errors.Join(err, p.shutdown(ctx))
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Error("consumer error", "error", err)

		case consumed, ok := <-rows:
			if !ok {
				p.logger.Info("row channel closed")
				return p.shutdown(ctx)
			}
			if err := p.Handle(ctx, consumed); err != nil {
				return errors.Join(err, p.shutdown(ctx))
			}
		}
	}
}

func (p *Processor) shutdown(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ShutdownTimeout)
	defer cancel()

	p.logger.Info("flushing buffers", "partitions", len(p.buffers.Partitions()))
	return p.FlushAll(flushCtx)
}

// Handle decodes one row and buffers it. Null rows are counted and skipped.
// Invalid rows go to the DLQ. The returned error is fatal for the loop.
func (p *Processor) Handle(ctx context.Context, consumed *row.ConsumedRow) error {
	md := consumed.Metadata
	pid := row.PartitionID{Topic: md.Topic, Partition: md.Partition}
	start := p.now()
	defer func() {
		p.metrics.ObserveProcessingDuration(md.Topic, "handle", p.now().Sub(start))
	}()

	record, err := p.validator.Validate(consumed)
	switch {
	case errors.Is(err, kerrors.ErrNullRow):
		p.metrics.IncNullRows(md.Topic)
		p.metrics.IncRowsProcessed(md.Topic, md.Partition, observability.StatusNull)
		return p.skip(pid, consumed)

	case err != nil:
		class := "unknown"
		var verr *kerrors.ValidationError
		if errors.As(err, &verr) {
			class = verr.Class()
		}
		p.logger.Warn("invalid row",
			"topic", md.Topic,
			"partition", md.Partition,
			"offset", md.Offset,
			"class", class,
			"error", err,
		)
		if err := p.deadLetter(ctx, consumed.Text, md, class, err.Error()); err != nil {
			return err
		}
		p.metrics.IncRowsProcessed(md.Topic, md.Partition, observability.StatusFailure)
		return p.skip(pid, consumed)
	}

	buf := p.buffers.GetOrCreate(pid)
	if err := buf.Add(*record); err != nil {
		if !errors.Is(err, kerrors.ErrBufferFull) {
			return &kerrors.ProcessingError{PartitionID: pid, Offset: md.Offset, Err: err}
		}
		if err := p.flush(ctx, pid); err != nil {
			return err
		}
		if err := buf.Add(*record); err != nil {
			// The row alone exceeds the buffer limit.
			if err := p.deadLetter(ctx, consumed.Text, md, ClassOversize, err.Error()); err != nil {
				return err
			}
			p.metrics.IncRowsProcessed(md.Topic, md.Partition, observability.StatusFailure)
			return p.skip(pid, consumed)
		}
	}

	p.pending[pid] = pendingCommit{offset: md.Offset, commit: consumed.CommitFunc}
	p.metrics.IncRowsProcessed(md.Topic, md.Partition, observability.StatusSuccess)

	stats := buf.Stats()
	p.metrics.SetBufferState(pid.Topic, pid.Partition, stats.RecordCount, stats.SizeBytes)

	if p.policy.ShouldRotate(stats) {
		return p.flush(ctx, pid)
	}
	return nil
}

// skip commits a row that produces no record. While earlier rows of the
// partition are still buffered the commit waits for their flush.
func (p *Processor) skip(pid row.PartitionID, consumed *row.ConsumedRow) error {
	pc := pendingCommit{offset: consumed.Metadata.Offset, commit: consumed.CommitFunc}
	if !p.buffers.GetOrCreate(pid).IsEmpty() {
		p.pending[pid] = pc
		return nil
	}
	p.commit(pid, pc)
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, text *string, md row.KafkaMetadata, class, reason string) error {
	if p.dlq == nil {
		p.logger.Warn("dropping row, DLQ disabled",
			"topic", md.Topic,
			"partition", md.Partition,
			"offset", md.Offset,
			"class", class,
		)
		return nil
	}
	if err := p.dlq.Publish(ctx, text, md, class, reason); err != nil {
		p.metrics.IncDLQPublished(md.Topic, class, observability.StatusFailure)
		return &kerrors.ProcessingError{
			PartitionID: row.PartitionID{Topic: md.Topic, Partition: md.Partition},
			Offset:      md.Offset,
			Err:         fmt.Errorf("failed to publish to DLQ: %w", err),
		}
	}
	p.metrics.IncDLQPublished(md.Topic, class, observability.StatusSuccess)
	return nil
}

func (p *Processor) commit(pid row.PartitionID, pc pendingCommit) {
	if pc.commit == nil {
		return
	}
	if err := pc.commit(); err != nil {
		cerr := &kerrors.CommitError{PartitionID: pid, Offset: pc.offset, Err: err}
		p.logger.Error("failed to commit offset", "error", cerr)
	}
}

func (p *Processor) commitPending(pid row.PartitionID) {
	pc, ok := p.pending[pid]
	if !ok {
		return
	}
	delete(p.pending, pid)
	p.commit(pid, pc)
}

// FlushDue flushes every partition whose buffer the rotation policy or the
// flush interval marks as due.
func (p *Processor) FlushDue(ctx context.Context) error {
	for _, pid := range p.buffers.Partitions() {
		buf := p.buffers.GetOrCreate(pid)
		if buf.IsEmpty() {
			continue
		}
		stats := buf.Stats()
		aged := p.config.FlushInterval > 0 && p.now().Sub(stats.FirstWriteTime) >= p.config.FlushInterval
		if aged || p.policy.ShouldRotate(stats) {
			if err := p.flush(ctx, pid); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAll writes and removes every buffer, continuing past failures.
func (p *Processor) FlushAll(ctx context.Context) error {
	var errs []error
	for _, pid := range p.buffers.Partitions() {
		if err := p.write(ctx, pid, p.buffers.Remove(pid)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) flush(ctx context.Context, pid row.PartitionID) error {
	return p.write(ctx, pid, p.buffers.GetOrCreate(pid).Drain())
}

// write stores one drained batch. On success the pending offset is
// committed. When storage keeps failing the batch goes to the DLQ if one is
// configured; otherwise the offset stays uncommitted and the error returns.
func (p *Processor) write(ctx context.Context, pid row.PartitionID, records []row.Record) error {
	if len(records) == 0 {
		p.commitPending(pid)
		return nil
	}

	start := p.now()
	path := p.router.Route(pid, records[0].PartitionTimeUnix(p.config.PartitionColumn))

	size, err := p.writeWithRetry(ctx, records, path)
	p.metrics.ObserveProcessingDuration(pid.Topic, "flush", p.now().Sub(start))
	p.metrics.SetBufferState(pid.Topic, pid.Partition, 0, 0)

	if err == nil {
		p.health.SetComponent(StorageComponent, server.StatusOK)
		p.logger.Info("wrote batch to storage",
			"topic", pid.Topic,
			"partition", pid.Partition,
			"records", len(records),
			"bytes", size,
			"path", path,
		)
		p.commitPending(pid)
		return nil
	}

	p.health.SetComponent(StorageComponent, err.Error())
	p.logger.Error("failed to write to storage",
		"topic", pid.Topic,
		"partition", pid.Partition,
		"records", len(records),
		"path", path,
		"error", err,
	)

	if p.dlq == nil || ctx.Err() != nil {
		delete(p.pending, pid)
		return &kerrors.ProcessingError{PartitionID: pid, Offset: records[0].Offset, Err: err}
	}

	for i := range records {
		text := records[i].Text
		if err := p.deadLetter(ctx, &text, records[i].Kafka, ClassStorage, err.Error()); err != nil {
			delete(p.pending, pid)
			return err
		}
	}
	p.commitPending(pid)
	return nil
}

func (p *Processor) writeWithRetry(ctx context.Context, records []row.Record, path string) (int64, error) {
	for attempt := 1; ; attempt++ {
		size, err := p.writer.Write(ctx, records, path, p.config.Format)
		if err == nil {
			return size, nil
		}
		if attempt >= p.config.Retry.MaxAttempts || !kerrors.IsRetryable(err) {
			return 0, err
		}

		wait := p.config.Retry.backoff(attempt, p.rand())
		p.logger.Warn("retrying storage write",
			"path", path,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		if serr := p.sleep(ctx, wait); serr != nil {
			return 0, errors.Join(err, serr)
		}
	}
}
