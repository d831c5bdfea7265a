package buffer

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/pkg/buffer"
	"github.com/jittakal/kafrowstore/pkg/row"
)

var (
	_ buffer.Buffer  = (*PartitionBuffer)(nil)
	_ buffer.Manager = (*Manager)(nil)
)

// initialCapacity bounds the slice preallocated per buffer. Record limits
// are often far larger than what a partition sees between flushes.
const initialCapacity = 1024

// limits caps a buffer. Zero fields are disabled.
type limits struct {
	bytes   int64
	records int
}

// admit reports whether a record of size bytes fits next to stats.
func (l limits) admit(stats row.FileStats, size int64) error {
	if l.records > 0 && stats.RecordCount >= l.records {
		return fmt.Errorf("%w: holds %d of %d records", errors.ErrBufferFull, stats.RecordCount, l.records)
	}
	if l.bytes > 0 && stats.SizeBytes+size > l.bytes {
		return fmt.Errorf("%w: %d more bytes exceed %d of %d", errors.ErrBufferFull, size, stats.SizeBytes, l.bytes)
	}
	return nil
}

func (l limits) capacity() int {
	if l.records > 0 && l.records < initialCapacity {
		return l.records
	}
	return initialCapacity
}

// PartitionBuffer holds the decoded rows of one Kafka partition in offset
// order.
type PartitionBuffer struct {
	mu      sync.RWMutex
	id      row.PartitionID
	limits  limits
	records []row.Record
	stats   row.FileStats
}

// New creates a new partition buffer. Zero limits are disabled.
func New(partitionID row.PartitionID, maxSizeBytes int64, maxRecords int) *PartitionBuffer {
	return &PartitionBuffer{
		id:     partitionID,
		limits: limits{bytes: maxSizeBytes, records: maxRecords},
	}
}

// Add appends record, or returns an error wrapping errors.ErrBufferFull when
// it would cross a limit. A refused record leaves the buffer unchanged.
func (b *PartitionBuffer) Add(record row.Record) error {
	size := int64(estimateSize(record))

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.limits.admit(b.stats, size); err != nil {
		return fmt.Errorf("partition %s: %w", b.id, err)
	}

	if b.records == nil {
		b.records = make([]row.Record, 0, b.limits.capacity())
	}
	b.records = append(b.records, record)

	now := time.Now()
	if b.stats.RecordCount == 0 {
		b.stats.FirstWriteTime = now
	}
	b.stats.LastWriteTime = now
	b.stats.RecordCount++
	b.stats.SizeBytes += size
	return nil
}

// Drain hands the buffered records to the caller and empties the buffer.
// Later writes never touch the returned slice.
func (b *PartitionBuffer) Drain() []row.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.records, b.stats = nil, row.FileStats{}
	return records
}

func (b *PartitionBuffer) Stats() row.FileStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

func (b *PartitionBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats.RecordCount == 0
}

// Reset discards the buffered records.
func (b *PartitionBuffer) Reset() {
	_ = b.Drain()
}

// estimateSize approximates the bytes a record adds to an output file: its
// canonical text and newline plus the Kafka columns stored beside it.
func estimateSize(record row.Record) int {
	size := len(record.Text) + 1 + len(record.Kafka.Topic) + len(record.Kafka.Key)
	for k, v := range record.Kafka.Headers {
		size += len(k) + len(v)
	}
	return size
}

// Manager keeps one PartitionBuffer per partition, created on first use with
// the same limits.
type Manager struct {
	mu      sync.RWMutex
	limits  limits
	buffers map[row.PartitionID]*PartitionBuffer
}

// NewManager creates a manager whose buffers share the given limits.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		limits:  limits{bytes: maxSizeBytes, records: maxRecords},
		buffers: make(map[row.PartitionID]*PartitionBuffer),
	}
}

// GetOrCreate returns the buffer of partitionID, creating it if needed.
func (m *Manager) GetOrCreate(partitionID row.PartitionID) buffer.Buffer {
	m.mu.RLock()
	buf, ok := m.buffers[partitionID]
	m.mu.RUnlock()
	if ok {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok = m.buffers[partitionID]; !ok {
		buf = &PartitionBuffer{id: partitionID, limits: m.limits}
		m.buffers[partitionID] = buf
	}
	return buf
}

// Partitions returns the partitions that currently have a buffer, ordered
// by topic and partition.
func (m *Manager) Partitions() []row.PartitionID {
	m.mu.RLock()
	ids := make([]row.PartitionID, 0, len(m.buffers))
	for id := range m.buffers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	slices.SortFunc(ids, func(a, b row.PartitionID) int {
		return cmp.Or(cmp.Compare(a.Topic, b.Topic), cmp.Compare(a.Partition, b.Partition))
	})
	return ids
}

// Remove drops the buffer of a partition and returns the records it still
// held. It returns nil when the partition has no buffer.
func (m *Manager) Remove(partitionID row.PartitionID) []row.Record {
	m.mu.Lock()
	buf, ok := m.buffers[partitionID]
	delete(m.buffers, partitionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return buf.Drain()
}
