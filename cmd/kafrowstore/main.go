package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/kafrowstore/internal/buffer"
	"github.com/jittakal/kafrowstore/internal/config"
	"github.com/jittakal/kafrowstore/internal/config/dto"
	"github.com/jittakal/kafrowstore/internal/kafka"
	"github.com/jittakal/kafrowstore/internal/observability"
	"github.com/jittakal/kafrowstore/internal/pipeline"
	"github.com/jittakal/kafrowstore/internal/server"
	"github.com/jittakal/kafrowstore/internal/storage"
	"github.com/jittakal/kafrowstore/internal/validator"
	"github.com/jittakal/kafrowstore/pkg/consumer"
	"github.com/jittakal/kafrowstore/pkg/row"
)

const kafkaComponent = "kafka"

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// configPath resolves the config file: CLI flag, then CONFIG_PATH, then the
// default location.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return "config/application.yaml"
}

func run() error {
	flagPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.NewLoader().Load(configPath(*flagPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:     cfg.Observability.Logging.Level,
		Format:    cfg.Observability.Logging.Format,
		Output:    cfg.Observability.Logging.Output,
		AddSource: cfg.Observability.Logging.AddSource,
		Service:   cfg.Application.Name,
	})
	logger.Info("starting kafka row store",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"schema", cfg.Schema.Name,
		"backend", cfg.Storage.Backend,
		"format", cfg.Storage.Format,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := cfg.Schema.Build()
	if err != nil {
		return fmt.Errorf("failed to build schema: %w", err)
	}

	rowValidator, err := validator.NewRowValidator(s, metrics)
	if err != nil {
		return fmt.Errorf("failed to create row validator: %w", err)
	}

	format := row.FileFormat(cfg.Storage.Format)
	writer, err := newWriter(ctx, cfg, s, format, logger, metrics)
	if err != nil {
		return err
	}
	defer closeWith(logger, "storage writer", writer.Close)

	router := storage.NewRouter(storageProtocol(cfg.Storage.Backend), storageBucket(cfg), storageBasePath(cfg), s.Name)
	policy := storage.NewPolicy(storage.PolicyConfig{
		MaxFileSizeMB:      cfg.FileRotation.MaxFileSizeMB,
		MaxRecordsPerFile:  cfg.FileRotation.MaxRecordsPerFile,
		MaxDurationSeconds: cfg.FileRotation.MaxDurationSeconds,
		Strategy:           cfg.FileRotation.Strategy,
	})

	security := securityConfig(cfg.Kafka)
	kafkaConsumer, err := kafka.NewSaramaConsumer(kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		Security:            security,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		EnableAutoCommit:    cfg.Kafka.Consumer.EnableAutoCommit,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer closeWith(logger, "kafka consumer", kafkaConsumer.Close)

	// A disabled publisher would acknowledge rows it never stores, so the
	// processor gets no DLQ at all.
	var dlq consumer.DLQPublisher
	if cfg.Kafka.DLQ.Enabled {
		publisher, err := kafka.NewDLQPublisher(cfg.Kafka.BootstrapServers, security, kafka.DLQConfig{
			Enabled:     true,
			TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
			MaxRetries:  cfg.Kafka.DLQ.MaxRetries,
		}, logger, cfg.Application.Name)
		if err != nil {
			return fmt.Errorf("failed to create DLQ publisher: %w", err)
		}
		defer closeWith(logger, "dlq publisher", publisher.Close)
		dlq = publisher
	}

	health := server.NewHealth()
	health.SetComponent(kafkaComponent, "starting")

	httpServer := server.NewServer(server.Config{
		HealthPort:     cfg.Observability.Health.Port,
		MetricsPort:    cfg.Observability.Metrics.Port,
		LivenessPath:   cfg.Observability.Health.LivenessPath,
		ReadinessPath:  cfg.Observability.Health.ReadinessPath,
		MetricsPath:    cfg.Observability.Metrics.Path,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
	}, health, registry, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	processor, err := pipeline.NewProcessor(processorConfig(cfg, s.Index(cfg.Storage.PartitionColumn)), pipeline.Components{
		Validator: rowValidator,
		Buffers:   buffer.NewManager(cfg.Processing.BufferBytes(), cfg.FileRotation.MaxRecordsPerFile),
		Writer:    writer,
		Router:    router,
		Policy:    policy,
		DLQ:       dlq,
		Health:    health,
		Metrics:   metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	if err := kafkaConsumer.Subscribe(ctx, cfg.Kafka.Consumer.Topics); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	rows, errs, err := kafkaConsumer.Consume(gctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	health.SetComponent(kafkaComponent, server.StatusOK)
	health.SetReady(true)
	logger.Info("application started successfully", "topics", cfg.Kafka.Consumer.Topics)

	g.Go(func() error {
		err := processor.Run(gctx, rows, errs)
		if err == nil && gctx.Err() == nil {
			err = errors.New("consumer stopped delivering rows")
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		logger.Info("received termination signal, draining buffers",
			"grace_period", cfg.Shutdown.GracePeriod(),
		)
		force := cfg.Shutdown.ForceTimeout()
		select {
		case err = <-done:
		case <-time.After(force):
			return fmt.Errorf("shutdown did not finish within %s", force)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		health.MarkDead()
		logger.Error("processing stopped", "error", err)
		return err
	}

	logger.Info("application stopped successfully")
	return nil
}

func processorConfig(cfg *dto.ApplicationConfig, partitionColumn int) pipeline.Config {
	return pipeline.Config{
		Format:          row.FileFormat(cfg.Storage.Format),
		PartitionColumn: partitionColumn,
		FlushInterval:   cfg.Processing.FlushInterval(),
		ShutdownTimeout: cfg.Shutdown.GracePeriod(),
		Retry: pipeline.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff(),
			MaxBackoff:     cfg.Retry.MaxBackoff(),
			Multiplier:     cfg.Retry.BackoffMultiplier,
			Jitter:         cfg.Retry.EnableJitter,
		},
	}
}

func securityConfig(cfg dto.KafkaConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		Protocol:              cfg.SecurityProtocol,
		SASLMechanism:         cfg.SASLMechanism,
		SASLUsername:          cfg.SASLUsername,
		SASLPassword:          cfg.SASLPassword,
		AWSRegion:             cfg.AWSRegion,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
}

func closeWith(logger *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		logger.Error("failed to close "+name, "error", err)
	}
}
