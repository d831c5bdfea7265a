package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kafrowstore/internal/config/dto"
	"github.com/jittakal/kafrowstore/internal/encoder"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// Loader reads the YAML config, overlays APP_ environment variables and
// validates the result.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. APP_KAFKA_CONSUMER_GROUP_ID overrides
// kafka.consumer.group_id.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads path, which may be missing, applies defaults and ${VAR}
// expansion, and validates the result.
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand only values that reference a variable.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Storage.Compression == "" {
		config.Storage.Compression = encoder.DefaultCompression(row.FileFormat(config.Storage.Format))
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// defaults holds every value a config file may omit.
var defaults = map[string]any{
	"application.name":        "kafrowstore",
	"application.version":     "1.0.0",
	"application.environment": "development",

	"kafka.security_protocol":              "PLAINTEXT",
	"kafka.sasl_mechanism":                 "PLAIN",
	"kafka.consumer.auto_offset_reset":     "earliest",
	"kafka.consumer.enable_auto_commit":    false,
	"kafka.consumer.max_poll_interval_ms":  300000,
	"kafka.consumer.session_timeout_ms":    30000,
	"kafka.consumer.heartbeat_interval_ms": 10000,
	"kafka.dlq.enabled":                    true,
	"kafka.dlq.topic_suffix":               "-dlq",
	"kafka.dlq.max_retries":                3,

	"storage.backend":           "file",
	"storage.format":            "parquet",
	"storage.s3.use_path_style": false,
	"storage.s3.sse_enabled":    true,

	"file_rotation.max_file_size_mb":     128,
	"file_rotation.max_records_per_file": 100000,
	"file_rotation.max_duration_seconds": 300,
	"file_rotation.strategy":             "any",

	"processing.buffer_size_mb":                64,
	"processing.buffer_flush_interval_seconds": 60,

	"retry.max_attempts":       5,
	"retry.initial_backoff_ms": 100,
	"retry.max_backoff_ms":     30000,
	"retry.backoff_multiplier": 2.0,
	"retry.enable_jitter":      true,

	"observability.logging.level":         "info",
	"observability.logging.format":        "json",
	"observability.logging.output":        "stdout",
	"observability.metrics.enabled":       true,
	"observability.metrics.port":          9090,
	"observability.metrics.path":          "/metrics",
	"observability.health.port":           8080,
	"observability.health.liveness_path":  "/health/live",
	"observability.health.readiness_path": "/health/ready",

	"shutdown.grace_period_seconds":  30,
	"shutdown.force_timeout_seconds": 60,
}

func (l *Loader) setDefaults() {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// Validate checks every section and reports all problems found.
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	s, schemaErr := ValidateSchema(&config.Schema)
	return errors.Join(
		validateKafka(config.Kafka),
		schemaErr,
		validateStorage(config.Storage, s),
		validateRotation(config.FileRotation),
		validatePort("metrics", config.Observability.Metrics.Port),
		validatePort("health", config.Observability.Health.Port),
	)
}

func validateKafka(c dto.KafkaConfig) error {
	var errs []error
	if len(c.BootstrapServers) == 0 {
		errs = append(errs, errors.New("kafka.bootstrap_servers is required"))
	}
	if len(c.Consumer.Topics) == 0 {
		errs = append(errs, errors.New("kafka.consumer.topics is required"))
	}
	if c.Consumer.GroupID == "" {
		errs = append(errs, errors.New("kafka.consumer.group_id is required"))
	}
	if c.DLQ.Enabled && c.DLQ.TopicSuffix == "" {
		errs = append(errs, errors.New("kafka.dlq.topic_suffix is required when the DLQ is enabled"))
	}
	return errors.Join(errs...)
}

// validateStorage checks the backend, the file format and, when s is known,
// the partition column.
func validateStorage(c dto.StorageConfig, s *schema.Schema) error {
	var errs []error

	var backendErr error
	switch c.Backend {
	case "s3":
		backendErr = c.S3.Validate()
	case "azure":
		backendErr = c.Azure.Validate()
	case "gcs":
		backendErr = c.GCS.Validate()
	case "file":
		backendErr = c.File.Validate()
	default:
		backendErr = fmt.Errorf("unsupported storage backend: %s", c.Backend)
	}
	if backendErr != nil {
		errs = append(errs, fmt.Errorf("storage.%s: %w", c.Backend, backendErr))
	}

	format := row.FileFormat(c.Format)
	switch {
	case !slices.Contains(encoder.SupportedFormats(), format):
		errs = append(errs, fmt.Errorf("unsupported storage format: %s", c.Format))
	case !encoder.IsSupportedCompression(format, c.Compression):
		errs = append(errs, fmt.Errorf("unsupported compression %q for storage format %q", c.Compression, c.Format))
	}

	if name := c.PartitionColumn; name != "" && s != nil {
		if idx := s.Index(name); idx < 0 {
			errs = append(errs, fmt.Errorf("storage.partition_column %q is not a schema column", name))
		} else if t := s.Columns[idx].Type; t != schema.TypeDate && t != schema.TypeDateTime {
			errs = append(errs, fmt.Errorf("storage.partition_column %q must be date or date_time, got %s", name, t))
		}
	}
	return errors.Join(errs...)
}

func validateRotation(c dto.FileRotationConfig) error {
	if c.Strategy != "any" && c.Strategy != "all" {
		return fmt.Errorf("unsupported rotation strategy: %s", c.Strategy)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

// LoadSchema reads only the schema section of a config file. Tools that
// convert rows offline use it without a Kafka or storage section.
func (l *Loader) LoadSchema(path string) (*schema.Schema, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var sc dto.SchemaConfig
	if err := l.v.UnmarshalKey("schema", &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return ValidateSchema(&sc)
}

// ValidateSchema builds the configured schema. Every top-level column needs a
// name and at least one column is required.
func ValidateSchema(c *dto.SchemaConfig) (*schema.Schema, error) {
	if c.Name == "" {
		return nil, errors.New("schema.name is required")
	}
	if len(c.Columns) == 0 {
		return nil, errors.New("schema.columns is required")
	}
	for i, col := range c.Columns {
		if col.Name == "" {
			return nil, fmt.Errorf("schema.columns[%d].name is required", i)
		}
	}
	s, err := c.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return s, nil
}
