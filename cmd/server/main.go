// Package main runs the live broadcast HTTP server with WebSocket ingest and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/metinemredonmez/podcast-app-sub001/config"
	"github.com/metinemredonmez/podcast-app-sub001/internal/auth"
	"github.com/metinemredonmez/podcast-app-sub001/internal/encoder"
	"github.com/metinemredonmez/podcast-app-sub001/internal/episodes"
	"github.com/metinemredonmez/podcast-app-sub001/internal/media"
	"github.com/metinemredonmez/podcast-app-sub001/internal/middleware"
	"github.com/metinemredonmez/podcast-app-sub001/internal/realtime"
	"github.com/metinemredonmez/podcast-app-sub001/internal/recorder"
	"github.com/metinemredonmez/podcast-app-sub001/internal/rooms"
	"github.com/metinemredonmez/podcast-app-sub001/internal/streams"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/database"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/queue"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/redis"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/response"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		MediaBucket:          cfg.AWS.MediaBucket,
		PublicBaseURL:        cfg.AWS.PublicBaseURL,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Media pipeline
	runner := media.NewExecRunner(logger)
	encoderSvc := encoder.NewService(runner, s3Client, encoder.Config{
		WorkDir:           cfg.Encoder.WorkDir,
		SegmentSeconds:    cfg.Encoder.SegmentSeconds,
		WindowSize:        cfg.Encoder.WindowSize,
		UploadPollSeconds: cfg.Encoder.UploadPollSeconds,
		FFmpegBin:         cfg.Encoder.FFmpegBin,
	}, logger)
	recorderSvc := recorder.NewService(runner, s3Client, recorder.Config{
		OutputDir:        cfg.Recording.OutputDir,
		StopGraceSeconds: cfg.Recording.StopGraceSeconds,
		FFmpegBin:        cfg.Encoder.FFmpegBin,
	}, logger)

	// Rooms
	roomStore := rooms.NewPostgresStore(pool)
	allocator := rooms.NewAllocator(roomStore, cfg.Stream.RoomCapacity, cfg.Stream.MaxRoomsPerSession, logger)

	// Episodes and background cleanup
	episodeRepo := episodes.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Lifecycle coordinator
	streamRepo := streams.NewRepository(pool)
	streamSvc := streams.NewService(streamRepo, allocator, encoderSvc, recorderSvc, episodeRepo, jobQueue, logger)
	streamSvc.SetNotifier(hub)
	streamSvc.SetDefaultMaxDuration(cfg.Stream.DefaultMaxDuration)
	streamHandler := streams.NewHandler(streamSvc, s3Client, logger)

	gateway := realtime.NewGateway(streamSvc, allocator, encoderSvc, hub,
		time.Duration(cfg.Stream.StatsPushSeconds)*time.Second, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public catalog
	router.GET("/streams/active", streamHandler.ListActive)
	router.GET("/streams/scheduled", streamHandler.ListScheduled)
	router.GET("/streams/past", streamHandler.ListPast)

	// Protected API
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/streams", middleware.RequireRole(auth.RoleHost, auth.RoleAdmin), streamHandler.Create)
		api.GET("/streams/mine", streamHandler.ListMine)
		api.GET("/streams/:id", streamHandler.Get)
		api.GET("/streams/:id/stats", streamHandler.Stats)
		api.GET("/streams/:id/recording-url", streamHandler.RecordingURL)
		api.POST("/streams/:id/start", streamHandler.Start)
		api.POST("/streams/:id/pause", streamHandler.Pause)
		api.POST("/streams/:id/resume", streamHandler.Resume)
		api.POST("/streams/:id/end", streamHandler.End)
		api.POST("/streams/:id/cancel", streamHandler.Cancel)

		// WebSocket (token accepted via query for browser clients)
		api.GET("/streams/:id/ws", realtime.ServeWs(hub, gateway, logger))
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// No WriteTimeout: WebSocket connections outlive any sane value.
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
