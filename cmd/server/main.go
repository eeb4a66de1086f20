// Package main runs the lecture audio HTTP server with event streaming and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aulavoz/backend/config"
	"github.com/aulavoz/backend/internal/auth"
	"github.com/aulavoz/backend/internal/documents"
	"github.com/aulavoz/backend/internal/engines"
	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/lessons"
	"github.com/aulavoz/backend/internal/middleware"
	"github.com/aulavoz/backend/internal/subjects"
	"github.com/aulavoz/backend/internal/worker"
	"github.com/aulavoz/backend/pkg/database"
	"github.com/aulavoz/backend/pkg/queue"
	"github.com/aulavoz/backend/pkg/redis"
	"github.com/aulavoz/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	layout, err := storage.NewLayout(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("data dir", zap.Error(err))
	}

	// Optional S3 mirror. The interfaces stay nil when it is disabled.
	var (
		objects documents.AudioObjects
		mirror  worker.AudioMirror
	)
	if cfg.AWS.Enabled() {
		s3Client, err := storage.NewS3(ctx, s3Config(cfg.AWS), logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			objects, mirror = s3Client, s3Client
		}
	}

	notifier := events.NewNotifier(logger)
	if cfg.Events.RedisFanout {
		detach, err := events.NewRedisBridge(rdb.Client, logger).Attach(notifier)
		if err != nil {
			logger.Fatal("event bridge", zap.Error(err))
		}
		defer detach()
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Documents
	subjectRepo := subjects.NewRepository(pool)
	lessonRepo := lessons.NewRepository(pool)
	documentRepo := documents.NewRepository(pool)
	documentSvc := documents.NewService(documentRepo, jobQueue, lessonRepo, layout, objects, notifier, logger)
	documentHandler := documents.NewHandler(documentSvc, logger)
	outcomeHandler := documents.NewOutcomeHandler(documentSvc, cfg.Worker.NotifyToken, logger)

	// Subjects and lessons
	subjectHandler := subjects.NewHandler(subjectRepo, lessonRepo, documentSvc, logger)
	lessonHandler := lessons.NewHandler(lessonRepo, subjectRepo, documentSvc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Events: worker outcomes (worker token) and client streams (public)
	router.POST(events.OutcomePath, outcomeHandler.Receive)
	router.GET("/events/pdf-status", events.StreamSSE(notifier, logger))
	router.GET("/ws/pdf-status", events.ServeWS(notifier, logger))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		api.POST("/subjects", subjectHandler.Create)
		api.GET("/subjects", subjectHandler.List)
		api.DELETE("/subjects/:id", subjectHandler.Delete)
		api.GET("/subjects/:id/lessons", lessonHandler.ListBySubject)

		api.POST("/lessons", lessonHandler.Create)
		api.GET("/lessons", lessonHandler.List)
		api.DELETE("/lessons/:id", lessonHandler.Delete)

		api.POST("/lessons/:id/documents", middleware.MaxBodySize(cfg.Server.MaxUploadBytes()), documentHandler.Upload)
		api.GET("/lessons/:id/documents", documentHandler.List)
		api.GET("/documents/:id", documentHandler.Get)
		api.POST("/documents/:id/regenerate", documentHandler.Regenerate)
		api.GET("/documents/:id/audio", documentHandler.Audio)
		api.GET("/documents/:id/audio-url", documentHandler.AudioURL)
		api.DELETE("/documents/:id", documentHandler.Delete)
	}

	// WriteTimeout stays 0 by default: event streams are long-lived responses.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Embedded worker: applies outcomes in-process instead of posting them back.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if cfg.Worker.Embedded {
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
			logger.Fatal("worker engines", zap.Error(err))
		}
		defer closeStages()

		processor := worker.NewProcessor(documentRepo, jobQueue, stages, layout, mirror,
			events.ReporterFunc(documentSvc.ApplyOutcome),
			worker.Config{ByteLimit: cfg.Worker.ByteLimit, PollTimeout: cfg.Worker.PollTimeout}, logger)
		if _, err := jobQueue.RecoverInflight(ctx); err != nil {
			logger.Warn("recover in-flight jobs", zap.Error(err))
		}
		go func() {
			defer close(workerDone)
			_ = processor.RunN(workerCtx, cfg.Worker.Concurrency)
		}()
		logger.Info("embedded worker started", zap.Int("concurrency", cfg.Worker.Concurrency))
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop before shutdown deadline")
	}
	logger.Info("server stopped")
}

func s3Config(a config.AWSConfig) storage.S3Config {
	return storage.S3Config{
		Region:               a.Region,
		AccessKeyID:          a.AccessKeyID,
		SecretAccessKey:      a.SecretAccessKey,
		AudioBucket:          a.AudioBucket,
		Endpoint:             a.Endpoint,
		PresignExpireMinutes: a.PresignExpireMinutes,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
