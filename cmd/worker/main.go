// Package main runs the PDF-to-audio pipeline worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aulavoz/backend/config"
	"github.com/aulavoz/backend/internal/documents"
	"github.com/aulavoz/backend/internal/engines"
	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/worker"
	"github.com/aulavoz/backend/pkg/database"
	"github.com/aulavoz/backend/pkg/queue"
	"github.com/aulavoz/backend/pkg/redis"
	"github.com/aulavoz/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Worker.Concurrency + 2,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	layout, err := storage.NewLayout(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("data dir", zap.Error(err))
	}

	var mirror worker.AudioMirror
	if cfg.AWS.Enabled() {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AudioBucket:          cfg.AWS.AudioBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 mirror disabled", zap.Error(err))
		} else {
			mirror = s3Client
		}
	}

	stages, closeStages, err := worker.NewStages(ctx, worker.StageOptions{
		GeminiAPIKey: cfg.Gemini.APIKey,
		GeminiModel:  cfg.Gemini.Model,
		TTS: engines.TTSConfig{
			CredentialsFile: cfg.TTS.CredentialsFile,
			Language:        cfg.TTS.Language,
			Voice:           cfg.TTS.Voice,
			SpeakingRate:    cfg.TTS.SpeakingRate,
		},
	}, logger)
	if err != nil {
		logger.Fatal("engines", zap.Error(err))
	}
	defer closeStages()

	reporter := events.NewHTTPReporter(events.ReporterConfig{
		BackendURL: cfg.Worker.BackendURL,
		Token:      cfg.Worker.NotifyToken,
		Timeout:    cfg.Worker.NotifyTimeout,
	}, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	if _, err := jobQueue.RecoverInflight(ctx); err != nil {
		logger.Warn("recover in-flight jobs", zap.Error(err))
	}

	processor := worker.NewProcessor(documents.NewRepository(pool), jobQueue, stages, layout, mirror, reporter,
		worker.Config{ByteLimit: cfg.Worker.ByteLimit, PollTimeout: cfg.Worker.PollTimeout}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.RunN(workerCtx, cfg.Worker.Concurrency)
	}()
	logger.Info("worker started",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("backend_url", cfg.Worker.BackendURL),
		zap.Bool("s3_mirror", mirror != nil))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
