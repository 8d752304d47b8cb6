// Package main 异步入库任务执行器入口（ingest-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"docqa-rag-api/internal/app"
	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/infrastructure/messaging"
	einoobs "docqa-rag-api/internal/observability/eino"
	"docqa-rag-api/pkg/logger"
	"docqa-rag-api/pkg/tracer"
)

const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.Cache.Redis.Enabled {
		logger.Fatal(ctx, "ingest-worker requires redis", fmt.Errorf("cache.redis.enabled is false"))
	}

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "ingest-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	application, cleanup, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize app", err)
	}
	defer cleanup()

	jobs := application.Jobs
	stream := cfg.Messaging.RedisStream

	consumer := messaging.NewConsumer(application.Redis.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamIngest,
		Group:         messaging.ConsumerGroupIngestWorker.WithPrefix(stream.ConsumerGroupPrefix),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  stream.BlockTimeout,
		ClaimInterval: stream.ClaimInterval,
		RetryLimit:    stream.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    stream.RetryBackoff.Initial,
			Max:        stream.RetryBackoff.Max,
			Multiplier: stream.RetryBackoff.Multiplier,
		},
		OnDeadLetter: func(ctx context.Context, msg *messaging.Message, cause error) {
			var req ingest.Request
			if err := msg.UnmarshalPayload(&req); err != nil || req.JobID == "" {
				return
			}
			if err := jobs.MarkFailed(ctx, req.JobID, cause); err != nil {
				logger.Error(ctx, "failed to mark ingest job failed", err, "job_id", req.JobID)
			}
		},
	})

	consumer.RegisterHandler(messaging.MessageTypeIngest, func(ctx context.Context, msg *messaging.Message) error {
		var req ingest.Request
		if err := msg.UnmarshalPayload(&req); err != nil {
			return err
		}
		return jobs.Process(ctx, &req)
	})

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	go consumer.MonitorDLQ(ctx, dlqAlertThreshold)

	log := logger.FromContext(ctx)
	log.Info("ingest-worker started", "stream", string(messaging.StreamIngest))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("ingest-worker shutting down")
	consumer.Stop()
	cancel()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
