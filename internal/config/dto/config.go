package dto

import (
	"fmt"
	"time"

	"github.com/jittakal/kafrowstore/pkg/schema"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers      []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol      string         `mapstructure:"security_protocol"`
	SASLMechanism         string         `mapstructure:"sasl_mechanism"`
	SASLUsername          string         `mapstructure:"sasl_username"`
	SASLPassword          string         `mapstructure:"sasl_password"`
	AWSRegion             string         `mapstructure:"aws_region"`
	TLSInsecureSkipVerify bool           `mapstructure:"tls_insecure_skip_verify"`
	Consumer              ConsumerConfig `mapstructure:"consumer"`
	DLQ                   DLQConfig      `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	EnableAutoCommit    bool     `mapstructure:"enable_auto_commit"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// SchemaConfig describes the ordered columns every row is decoded against.
type SchemaConfig struct {
	Name    string         `mapstructure:"name"`
	Columns []ColumnConfig `mapstructure:"columns"`
}

// ColumnConfig describes one column. Element applies to array and set
// columns, Key and Value to map columns. Nested columns need no name.
type ColumnConfig struct {
	Name      string        `mapstructure:"name"`
	Type      string        `mapstructure:"type"`
	Precision int           `mapstructure:"precision"`
	Scale     int           `mapstructure:"scale"`
	Fraction  bool          `mapstructure:"fraction"`
	Timezone  bool          `mapstructure:"timezone"`
	Element   *ColumnConfig `mapstructure:"element"`
	Key       *ColumnConfig `mapstructure:"key"`
	Value     *ColumnConfig `mapstructure:"value"`
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Format      string `mapstructure:"format"`
	Compression string `mapstructure:"compression"`
	// PartitionColumn names a date or date_time column used for the dt=
	// path segment. Empty means the Kafka timestamp.
	PartitionColumn string      `mapstructure:"partition_column"`
	S3              S3Config    `mapstructure:"s3"`
	Azure           AzureConfig `mapstructure:"azure"`
	GCS             GCSConfig   `mapstructure:"gcs"`
	File            FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration. ConnectionString
// takes precedence over the account name and key.
type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Container        string `mapstructure:"container"`
	BasePath         string `mapstructure:"base_path"`
	Endpoint         string `mapstructure:"endpoint"`
	ConnectionString string `mapstructure:"connection_string"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains file rotation settings
type FileRotationConfig struct {
	MaxFileSizeMB      int64  `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int    `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// ProcessingConfig contains processing settings
type ProcessingConfig struct {
	BufferSizeMB           int `mapstructure:"buffer_size_mb"`
	BufferFlushIntervalSec int `mapstructure:"buffer_flush_interval_seconds"`
}

// RetryConfig contains retry settings for storage writes
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	EnableJitter      bool    `mapstructure:"enable_jitter"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddSource bool   `mapstructure:"add_source"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds  int `mapstructure:"grace_period_seconds"`
	ForceTimeoutSeconds int `mapstructure:"force_timeout_seconds"`
}

// GracePeriod returns the graceful shutdown window.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// ForceTimeout is how long shutdown may take in total before the process
// gives up on draining.
func (c ShutdownConfig) ForceTimeout() time.Duration {
	return time.Duration(c.ForceTimeoutSeconds) * time.Second
}

// BufferBytes is the per-partition buffer limit. Zero disables it.
func (c ProcessingConfig) BufferBytes() int64 {
	return int64(c.BufferSizeMB) << 20
}

func (c ProcessingConfig) FlushInterval() time.Duration {
	return time.Duration(c.BufferFlushIntervalSec) * time.Second
}

func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// Build converts the schema section into a validated schema.
func (c *SchemaConfig) Build() (*schema.Schema, error) {
	s := schema.NewSchema(c.Name)
	for i := range c.Columns {
		col, err := c.Columns[i].Build()
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		s.AddColumn(col)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Build converts one column description, recursing into nested columns.
func (c *ColumnConfig) Build() (*schema.Column, error) {
	t, err := schema.ParseType(c.Type)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", c.Name, err)
	}

	col := &schema.Column{
		Name:        c.Name,
		Type:        t,
		Precision:   c.Precision,
		Scale:       c.Scale,
		HasFraction: c.Fraction,
		HasTimezone: c.Timezone,
	}

	nested := func(n *ColumnConfig, role string) (*schema.Column, error) {
		if n == nil {
			return nil, nil
		}
		built, err := n.Build()
		if err != nil {
			return nil, fmt.Errorf("column %q %s: %w", c.Name, role, err)
		}
		return built, nil
	}

	if col.Element, err = nested(c.Element, "element"); err != nil {
		return nil, err
	}
	if col.Key, err = nested(c.Key, "key"); err != nil {
		return nil, err
	}
	if col.Value, err = nested(c.Value, "value"); err != nil {
		return nil, err
	}
	return col, nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	if c.ConnectionString == "" && (c.AccountName == "" || c.AccountKey == "") {
		return fmt.Errorf("azure connection string or account name and key are required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
