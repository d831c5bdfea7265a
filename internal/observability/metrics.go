package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row decoding outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusNull    = "null"
)

// Metrics holds the service's Prometheus collectors. The methods implement
// the metrics interfaces of the kafka, storage and pipeline packages.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	ConsumerLag        *prometheus.GaugeVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	CommitLatency      *prometheus.HistogramVec

	// Row metrics
	RowsDecoded           *prometheus.CounterVec
	RowConversionDuration *prometheus.HistogramVec
	NullRows              *prometheus.CounterVec
	DLQPublished          *prometheus.CounterVec

	// Processing metrics
	RowsProcessed      *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	BufferSize         *prometheus.GaugeVec
	BufferRecordCount  *prometheus.GaugeVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	FileWriteDuration    *prometheus.HistogramVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// Namespace prefixes every metric name.
const Namespace = "kafrowstore"

var (
	partitionLabels = []string{"topic", "partition"}
	latencyBuckets  = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}
	// One row converts in microseconds.
	rowBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}
	// 64KiB to 512MiB.
	fileSizeBuckets = prometheus.ExponentialBuckets(64*1024, 2, 14)
)

type metricFactory struct{ promauto.Factory }

func (f metricFactory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: help}, labels)
}

func (f metricFactory) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Name: name, Help: help}, labels)
}

func (f metricFactory) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Name: name, Help: help, Buckets: buckets}, labels)
}

// NewMetrics registers every metric on registry. Registering twice on the
// same registry panics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	f := metricFactory{promauto.With(registry)}

	return &Metrics{
		MessagesConsumed:   f.counter("kafka_messages_consumed_total", "Messages consumed from Kafka", partitionLabels...),
		ConsumerLag:        f.gauge("kafka_consumer_lag", "Messages between the last consumed offset and the high water mark", partitionLabels...),
		OffsetCommits:      f.counter("kafka_offset_commit_total", "Offset commits by outcome", "topic", "partition", "status"),
		Rebalances:         f.counter("kafka_rebalance_total", "Consumer group sessions started", "group"),
		RebalanceDuration:  f.histogram("kafka_rebalance_duration_seconds", "Lifetime of a consumer group session, setup to cleanup", []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, "group"),
		PartitionsAssigned: f.gauge("kafka_partitions_assigned", "Partitions held by this member", "topic"),
		CommitLatency:      f.histogram("kafka_commit_latency_seconds", "Time to mark and commit one offset", latencyBuckets, partitionLabels...),

		RowsDecoded:           f.counter("rows_decoded_total", "Rows run through the converter, by outcome and error class", "topic", "status", "class"),
		RowConversionDuration: f.histogram("row_conversion_duration_seconds", "Time spent decoding and canonicalising one row", rowBuckets, "topic"),
		NullRows:              f.counter("rows_null_total", "Null rows (tombstones) committed without storage", "topic"),
		DLQPublished:          f.counter("dlq_published_total", "Rows sent to the dead letter topic", "topic", "class", "status"),

		RowsProcessed:      f.counter("rows_processed_total", "Rows stored, dead-lettered or dropped", "topic", "partition", "status"),
		ProcessingDuration: f.histogram("processing_duration_seconds", "Duration of pipeline operations", prometheus.DefBuckets, "topic", "operation"),
		BufferSize:         f.gauge("buffer_size_bytes", "Estimated bytes held by a partition buffer", partitionLabels...),
		BufferRecordCount:  f.gauge("buffer_record_count", "Rows held by a partition buffer", partitionLabels...),

		FilesWritten:         f.counter("files_written_total", "Files written to storage", "topic", "partition", "format", "status"),
		FileWriteDuration:    f.histogram("file_write_duration_seconds", "Duration of one backend upload", prometheus.DefBuckets, "backend", "format"),
		StorageWriteDuration: f.histogram("storage_write_duration_seconds", "Duration of a storage write including encoding", prometheus.DefBuckets, partitionLabels...),
		FileSize:             f.histogram("file_size_bytes", "Size of files written to storage", fileSizeBuckets, "topic", "partition", "format"),
		StorageErrors:        f.counter("storage_errors_total", "Storage failures by backend and operation", "backend", "error_type"),
	}
}

func partitionLabel(partition int32) string {
	return strconv.FormatInt(int64(partition), 10)
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, partitionLabel(partition), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// ObserveCommitLatency observes commit latency.
func (m *Metrics) ObserveCommitLatency(topic string, partition int32, duration float64) {
	m.CommitLatency.WithLabelValues(topic, partitionLabel(partition)).Observe(duration)
}

// SetConsumerLag records how far the consumer is behind the high water mark.
func (m *Metrics) SetConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	m.ConsumerLag.WithLabelValues(topic, partitionLabel(partition)).Set(float64(lag))
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncRowsDecoded records one converter outcome. class is empty on success.
func (m *Metrics) IncRowsDecoded(topic, status, class string) {
	m.RowsDecoded.WithLabelValues(topic, status, class).Inc()
}

// ObserveRowConversion observes the time spent converting one row.
func (m *Metrics) ObserveRowConversion(topic string, d time.Duration) {
	m.RowConversionDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// IncNullRows increments the null row counter.
func (m *Metrics) IncNullRows(topic string) {
	m.NullRows.WithLabelValues(topic).Inc()
}

// IncDLQPublished increments the dead letter counter.
func (m *Metrics) IncDLQPublished(topic, class, status string) {
	m.DLQPublished.WithLabelValues(topic, class, status).Inc()
}

// IncRowsProcessed increments processed rows counter.
func (m *Metrics) IncRowsProcessed(topic string, partition int32, status string) {
	m.RowsProcessed.WithLabelValues(topic, partitionLabel(partition), status).Inc()
}

// ObserveProcessingDuration observes one pipeline operation (flush, commit, validate).
func (m *Metrics) ObserveProcessingDuration(topic, operation string, d time.Duration) {
	m.ProcessingDuration.WithLabelValues(topic, operation).Observe(d.Seconds())
}

// SetBufferState records the current size of a partition buffer.
func (m *Metrics) SetBufferState(topic string, partition int32, records int, sizeBytes int64) {
	p := partitionLabel(partition)
	m.BufferRecordCount.WithLabelValues(topic, p).Set(float64(records))
	m.BufferSize.WithLabelValues(topic, p).Set(float64(sizeBytes))
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(topic string, partition int32, format string, status string) {
	m.FilesWritten.WithLabelValues(topic, partitionLabel(partition), format, status).Inc()
}

// ObserveFileWriteDuration observes one backend upload.
func (m *Metrics) ObserveFileWriteDuration(backend, format string, duration float64) {
	m.FileWriteDuration.WithLabelValues(backend, format).Observe(duration)
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(topic string, partition int32, format string, size float64) {
	m.FileSize.WithLabelValues(topic, partitionLabel(partition), format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(topic string, partition int32, duration float64) {
	m.StorageWriteDuration.WithLabelValues(topic, partitionLabel(partition)).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
