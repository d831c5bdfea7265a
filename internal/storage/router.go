package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style partitioning for storage paths.
type DefaultRouter struct {
	protocol   string
	bucket     string
	basePath   string
	schemaName string
}

// NewRouter creates a new storage router. Rows of different schemas land
// in separate directories.
func NewRouter(protocol, bucket, basePath, schemaName string) *DefaultRouter {
	return &DefaultRouter{
		protocol:   protocol,
		bucket:     bucket,
		basePath:   strings.Trim(basePath, "/"),
		schemaName: schemaName,
	}
}

// Route returns the storage path for a partition at the given Unix time.
// Format: protocol://bucket/basePath/topic/schema/dt=YYYY-MM-DD/pid=N/
// Empty bucket or base path segments are omitted.
func (r *DefaultRouter) Route(partitionID row.PartitionID, timestamp int64) string {
	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")

	segments := make([]string, 0, 6)
	for _, s := range []string{r.bucket, r.basePath, partitionID.Topic, r.schemaName} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	segments = append(segments, "dt="+date, fmt.Sprintf("pid=%d", partitionID.Partition))

	return r.protocol + "://" + strings.Join(segments, "/") + "/"
}

// RotationStrategy determines how rotation criteria combine.
type RotationStrategy string

const (
	// StrategyAny rotates when any configured criterion is met.
	StrategyAny RotationStrategy = "any"
	// StrategyAll rotates only when every configured criterion is met.
	StrategyAll RotationStrategy = "all"
)

// PolicyConfig configures rotation behavior. Zero limits are disabled.
type PolicyConfig struct {
	MaxFileSizeMB      int64
	MaxRecordsPerFile  int
	MaxDurationSeconds int
	Strategy           string
}

// CompositePolicy rotates based on size, record count and buffer age.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	strategy     RotationStrategy
	now          func() time.Time
}

// NewPolicy creates a new rotation policy. Unknown strategies behave as any.
func NewPolicy(config PolicyConfig) *CompositePolicy {
	strategy := RotationStrategy(config.Strategy)
	if strategy != StrategyAll {
		strategy = StrategyAny
	}
	return &CompositePolicy{
		maxSizeBytes: config.MaxFileSizeMB * 1024 * 1024,
		maxRecords:   config.MaxRecordsPerFile,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
		strategy:     strategy,
		now:          time.Now,
	}
}

// ShouldRotate reports whether the buffer described by stats should be flushed.
func (p *CompositePolicy) ShouldRotate(stats row.FileStats) bool {
	if stats.RecordCount == 0 {
		return false
	}

	var checks []bool
	if p.maxSizeBytes > 0 {
		checks = append(checks, stats.SizeBytes >= p.maxSizeBytes)
	}
	if p.maxRecords > 0 {
		checks = append(checks, stats.RecordCount >= p.maxRecords)
	}
	if p.maxDuration > 0 {
		checks = append(checks, !stats.FirstWriteTime.IsZero() && p.now().Sub(stats.FirstWriteTime) >= p.maxDuration)
	}
	if len(checks) == 0 {
		return false
	}

	for _, met := range checks {
		if met && p.strategy == StrategyAny {
			return true
		}
		if !met && p.strategy == StrategyAll {
			return false
		}
	}
	return p.strategy == StrategyAll
}
