package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jittakal/kafrowstore/internal/config/dto"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

const validConfig = `
application:
  name: test-app
  version: 1.0.0

kafka:
  bootstrap_servers:
    - localhost:9092
  consumer:
    group_id: test-group
    topics:
      - orders

schema:
  name: orders
  columns:
    - name: id
      type: fixed_point
    - name: amount
      type: decimal
      precision: 10
      scale: 2
    - name: created
      type: date_time
      fraction: true
      timezone: true
    - name: tags
      type: array
      element:
        type: text
    - name: attrs
      type: map
      key:
        type: text
      value:
        type: array
        element:
          type: fixed_point

storage:
  backend: file
  format: avro
  partition_column: created
  file:
    base_path: /tmp/test
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}
	return path
}

func validApplicationConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Kafka: dto.KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			Consumer: dto.ConsumerConfig{
				GroupID: "test-group",
				Topics:  []string{"orders"},
			},
		},
		Schema: dto.SchemaConfig{
			Name: "orders",
			Columns: []dto.ColumnConfig{
				{Name: "id", Type: "fixed_point"},
				{Name: "day", Type: "date"},
				{Name: "note", Type: "text"},
			},
		},
		Storage: dto.StorageConfig{
			Backend:     "file",
			Format:      "parquet",
			Compression: "snappy",
			File:        dto.FileConfig{BasePath: "/tmp/test"},
		},
		FileRotation: dto.FileRotationConfig{Strategy: "any"},
		Observability: dto.ObservabilityConfig{
			Metrics: dto.MetricsConfig{Port: 9090},
			Health:  dto.HealthConfig{Port: 8080},
		},
	}
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("expected non-nil loader")
	}
	if loader.v == nil {
		t.Fatal("expected non-nil viper instance")
	}
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	config, err := NewLoader().Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Application.Name != "test-app" {
		t.Errorf("Application.Name = %s, want test-app", config.Application.Name)
	}
	if config.Kafka.Consumer.GroupID != "test-group" {
		t.Errorf("Kafka.Consumer.GroupID = %s, want test-group", config.Kafka.Consumer.GroupID)
	}
	if len(config.Kafka.Consumer.Topics) != 1 || config.Kafka.Consumer.Topics[0] != "orders" {
		t.Errorf("Kafka.Consumer.Topics = %v, want [orders]", config.Kafka.Consumer.Topics)
	}
	if config.Storage.Compression != "gzip" {
		t.Errorf("Storage.Compression = %q, want the avro default gzip", config.Storage.Compression)
	}

	// Defaults
	if config.Kafka.DLQ.TopicSuffix != "-dlq" {
		t.Errorf("DLQ.TopicSuffix = %q, want -dlq", config.Kafka.DLQ.TopicSuffix)
	}
	if config.FileRotation.MaxRecordsPerFile != 100000 {
		t.Errorf("MaxRecordsPerFile = %d, want 100000", config.FileRotation.MaxRecordsPerFile)
	}
	if config.Retry.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2", config.Retry.BackoffMultiplier)
	}
	if config.Shutdown.GracePeriod().Seconds() != 30 {
		t.Errorf("GracePeriod = %v, want 30s", config.Shutdown.GracePeriod())
	}

	s, err := config.Schema.Build()
	if err != nil {
		t.Fatalf("Schema.Build() error = %v", err)
	}
	want := schema.NewSchema("orders").
		AddColumn(schema.NewFixedPoint("id")).
		AddColumn(schema.NewDecimal("amount", 10, 2)).
		AddColumn(schema.NewDateTime("created", true, true)).
		AddColumn(schema.NewArray("tags", schema.NewText(""))).
		AddColumn(schema.NewMap("attrs", schema.NewText(""), schema.NewArray("", schema.NewFixedPoint(""))))
	if err := s.Equals(want); err != nil {
		t.Errorf("built schema differs: %v", err)
	}
}

func TestLoader_EnvironmentOverride(t *testing.T) {
	t.Setenv("APP_KAFKA_CONSUMER_GROUP_ID", "from-env")
	t.Setenv("TEST_BASE_PATH", "/data/rows")

	content := strings.Replace(validConfig, "base_path: /tmp/test", "base_path: ${TEST_BASE_PATH}", 1)
	config, err := NewLoader().Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Kafka.Consumer.GroupID != "from-env" {
		t.Errorf("GroupID = %q, want from-env", config.Kafka.Consumer.GroupID)
	}
	if config.Storage.File.BasePath != "/data/rows" {
		t.Errorf("BasePath = %q, want /data/rows", config.Storage.File.BasePath)
	}
}

func TestLoader_LoadWithMissingFile(t *testing.T) {
	// Defaults alone lack the required Kafka and schema sections.
	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail validation without required fields")
	}
}

func TestLoader_LoadSchema(t *testing.T) {
	s, err := NewLoader().LoadSchema(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if s.Len() != 5 || s.Name != "orders" {
		t.Errorf("schema = %s with %d columns", s.Name, s.Len())
	}

	if _, err := NewLoader().LoadSchema(writeConfig(t, "kafka: {}\n")); err == nil {
		t.Error("LoadSchema() should fail without a schema section")
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*dto.ApplicationConfig)
		wantErr string
	}{
		{name: "valid file backend config", mutate: func(*dto.ApplicationConfig) {}},
		{
			name:    "missing bootstrap servers",
			mutate:  func(c *dto.ApplicationConfig) { c.Kafka.BootstrapServers = nil },
			wantErr: "bootstrap_servers",
		},
		{
			name:    "missing topics",
			mutate:  func(c *dto.ApplicationConfig) { c.Kafka.Consumer.Topics = nil },
			wantErr: "topics",
		},
		{
			name:    "missing group id",
			mutate:  func(c *dto.ApplicationConfig) { c.Kafka.Consumer.GroupID = "" },
			wantErr: "group_id",
		},
		{
			name: "dlq without suffix",
			mutate: func(c *dto.ApplicationConfig) {
				c.Kafka.DLQ = dto.DLQConfig{Enabled: true}
			},
			wantErr: "topic_suffix",
		},
		{
			name:    "empty schema",
			mutate:  func(c *dto.ApplicationConfig) { c.Schema.Columns = nil },
			wantErr: "schema.columns",
		},
		{
			name:    "unknown column type",
			mutate:  func(c *dto.ApplicationConfig) { c.Schema.Columns[0].Type = "uuid" },
			wantErr: "unknown column type",
		},
		{
			name:    "unnamed column",
			mutate:  func(c *dto.ApplicationConfig) { c.Schema.Columns[1].Name = "" },
			wantErr: "name is required",
		},
		{
			name: "map with numeric key",
			mutate: func(c *dto.ApplicationConfig) {
				c.Schema.Columns = append(c.Schema.Columns, dto.ColumnConfig{
					Name:  "m",
					Type:  "map",
					Key:   &dto.ColumnConfig{Type: "fixed_point"},
					Value: &dto.ColumnConfig{Type: "text"},
				})
			},
			wantErr: "map key",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *dto.ApplicationConfig) { c.Storage.Backend = "s3" },
			wantErr: "bucket",
		},
		{
			name: "valid gcs backend",
			mutate: func(c *dto.ApplicationConfig) {
				c.Storage.Backend = "gcs"
				c.Storage.GCS.Bucket = "rows"
			},
		},
		{
			name: "valid azure backend",
			mutate: func(c *dto.ApplicationConfig) {
				c.Storage.Backend = "azure"
				c.Storage.Azure = dto.AzureConfig{AccountName: "acct", AccountKey: "a2V5", Container: "rows"}
			},
		},
		{
			name:    "unsupported backend",
			mutate:  func(c *dto.ApplicationConfig) { c.Storage.Backend = "ftp" },
			wantErr: "unsupported storage backend",
		},
		{
			name:    "unsupported format",
			mutate:  func(c *dto.ApplicationConfig) { c.Storage.Format = "orc" },
			wantErr: "unsupported storage format",
		},
		{
			name: "idf with zstd",
			mutate: func(c *dto.ApplicationConfig) {
				c.Storage.Format = "idf"
				c.Storage.Compression = "zstd"
			},
		},
		{
			name: "avro does not support lz4",
			mutate: func(c *dto.ApplicationConfig) {
				c.Storage.Format = "avro"
				c.Storage.Compression = "lz4"
			},
			wantErr: "unsupported compression",
		},
		{
			name:   "date partition column",
			mutate: func(c *dto.ApplicationConfig) { c.Storage.PartitionColumn = "day" },
		},
		{
			name:    "missing partition column",
			mutate:  func(c *dto.ApplicationConfig) { c.Storage.PartitionColumn = "nope" },
			wantErr: "not a schema column",
		},
		{
			name:    "text partition column",
			mutate:  func(c *dto.ApplicationConfig) { c.Storage.PartitionColumn = "note" },
			wantErr: "must be date or date_time",
		},
		{
			name:    "invalid rotation strategy",
			mutate:  func(c *dto.ApplicationConfig) { c.FileRotation.Strategy = "some" },
			wantErr: "rotation strategy",
		},
		{
			name:    "invalid metrics port",
			mutate:  func(c *dto.ApplicationConfig) { c.Observability.Metrics.Port = 70000 },
			wantErr: "metrics port",
		},
		{
			name:    "invalid health port",
			mutate:  func(c *dto.ApplicationConfig) { c.Observability.Health.Port = 0 },
			wantErr: "health port",
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validApplicationConfig()
			tt.mutate(config)

			err := loader.Validate(config)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
