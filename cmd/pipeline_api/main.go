package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"video_transcode_pipeline/internal/pipeline/api/handlers"
	"video_transcode_pipeline/internal/pipeline/api/router"
	"video_transcode_pipeline/internal/pipeline/app"
	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/internal/pipeline/queue"
	"video_transcode_pipeline/internal/pipeline/repository"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.PipelineAPI, config.EnvConfig.PipelineAPILogPath)

	cfg := config.LoadConfig[config.PipelineAPI](config.EnvConfig.PipelineAPI, config.EnvConfig.PipelineAPIYAMLPath)

	// 1. 連線 PostgreSQL（job 狀態記錄）
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.PostgreSQL.Host, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database, cfg.PostgreSQL.Port)
	db, err := database.NewPGConnection(database.Connection{
		ConnectStr: dsn,

		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to postgreSQL database after retries",
			zap.String("address", fmt.Sprintf("[%s]", dsn)),
			zap.Error(err),
		)
	}

	statusRepo := repository.NewStatusRepo(db)
	if err := statusRepo.AutoMigrate(); err != nil {
		log.Fatalf("資料表遷移失敗: %v", err)
	}

	sqlParams := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.Database)
	pool, err := database.NewDatabaseConnection(database.Connection{
		ConnectStr:    sqlParams,
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to postgreSQL database after retries",
			zap.String("address", fmt.Sprintf("[%s]", sqlParams)),
			zap.Error(err),
		)
	}
	defer pool.Close()

	renditionRepo := repository.NewRenditionRepo(pool)
	if err := renditionRepo.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("renditions 資料表建立失敗: %v", err)
	}

	// 2. 連線 MongoDB（job 事件明細查詢）
	mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoDB.User, cfg.MongoDB.Password, cfg.MongoDB.Host, cfg.MongoDB.Port)
	mongoDB, err := database.NewMongoDB(context.Background(), database.Connection{
		ConnectStr:    mongoURI,
		RetryCount:    cfg.MongoDB.RetryCount,
		RetryInterval: time.Duration(cfg.MongoDB.RetryInterval) * time.Second,
	}, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("MongoDB 連線失敗: %v", err)
	}
	defer mongoDB.Close(context.Background())
	eventRepo := repository.NewJobEventRepo(mongoDB.Database)

	// 3. 連線 RabbitMQ（job 入列端）
	rabbitURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port)
	conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    rabbitURL,
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
	})
	if err != nil {
		log.Fatalf("RabbitMQ 連線失敗: %v", err)
	}
	defer conn.Close()

	rabbitChannel, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, cfg.RabbitMQ.RetryInterval)
	if err != nil {
		log.Fatalf("取得 RabbitMQ Channel 失敗: %v", err)
	}
	defer rabbitChannel.Close()

	jobQueue, err := queue.NewRabbitJobQueue(rabbitChannel, domain.QueueName)
	if err != nil {
		log.Fatalf("Job queue 初始化失敗: %v", err)
	}

	// 4. 初始化 MinIO 客戶端（presigned 播放連結）
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:   fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
		User:       cfg.MinIO.User,
		Password:   cfg.MinIO.Password,
		BucketName: cfg.MinIO.BucketName,
		UseSSL:     cfg.MinIO.UseSSL,

		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: cfg.MinIO.RetryInterval,
	})
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to minio after retries",
			zap.String("address", fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port)),
			zap.Error(err),
		)
	}

	// 5. 連線 Redis（終態查詢結果快取）
	masterName, sentinel := config.GetRedisSetting()
	statusCache, err := database.NewRedisRepository[domain.TranscodeStatusRes](masterName, sentinel, cfg.RedisCache.RedisDB)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}

	// API 端不發布結果，Orchestrator 只用於取消轉移
	orch := app.NewOrchestrator(statusRepo, renditionRepo, eventRepo, nil, 0)
	usecase := app.NewPipelineUseCase(statusRepo, renditionRepo, eventRepo, jobQueue, orch, minioClient, statusCache)

	// 6. 建立 Fiber 應用
	fiberApp := fiber.New()
	router.RegisterRoutes(fiberApp, handlers.NewPipelineHandler(usecase))

	addr := cfg.IP + ":" + cfg.Port
	logger.Log.Info(fmt.Sprintf("PipelineAPI listening on : %s", addr))
	if err := fiberApp.Listen(addr); err != nil {
		log.Fatalf("Failed to serve pipeline api: %v", err)
	}
}
