package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"video_transcode_pipeline/internal/pipeline/app"
	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/internal/pipeline/queue"
	"video_transcode_pipeline/internal/pipeline/repository"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"
	testtool "video_transcode_pipeline/pkg/test_tool"

	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerLogPath)

	cfg := config.LoadConfig[config.TranscodeWorker](config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerYAMLPath)

	testtool.StartPprof()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// rendition 記錄走 pgxpool
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
	if err := renditionRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("renditions 資料表建立失敗: %v", err)
	}

	// 2. 連線 MongoDB（job 事件明細）
	mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoDB.User, cfg.MongoDB.Password, cfg.MongoDB.Host, cfg.MongoDB.Port)
	mongoDB, err := database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    mongoURI,
		RetryCount:    cfg.MongoDB.RetryCount,
		RetryInterval: time.Duration(cfg.MongoDB.RetryInterval) * time.Second,
	}, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("MongoDB 連線失敗: %v", err)
	}
	defer mongoDB.Close(context.Background())
	eventRepo := repository.NewJobEventRepo(mongoDB.Database)

	// 3. 初始化 MinIO 客戶端（原始檔下載與 rendition 儲存）
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

	// 4. 建立 Kafka Writer（完成事件）
	kafkaWriter, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
		Brokers:       cfg.KafKa.Brokers,
		Topic:         cfg.KafKa.Topic,
		RetryCount:    cfg.KafKa.RetryCount,
		RetryInterval: cfg.KafKa.RetryInterval,
	})
	if err != nil {
		log.Fatalf("Kafka Writer 建立失敗: %v", err)
	}
	defer kafkaWriter.Close()

	// 5. 連線 Redis（job 租約）
	masterName, sentinel := config.GetRedisSetting()
	redisClient, err := database.NewRedisClient(masterName, sentinel, cfg.RedisLease.RedisDB)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}
	leaseRepo := repository.NewLeaseRepo(redisClient)

	// 6. 連線 RabbitMQ（job queue 消費端）
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

	// 7. 組裝流水線
	publisher := app.NewResultPublisher(minioClient, statusRepo, kafkaWriter)
	orch := app.NewOrchestrator(statusRepo, renditionRepo, eventRepo, publisher, cfg.Pipeline.RetryBudget)
	transcoder := app.NewFFmpegTranscoder(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)

	workerPool := app.NewTranscodePool(jobQueue, orch, leaseRepo, transcoder, minioClient, app.PoolConfig{
		Workers:           cfg.Pipeline.WorkerCount,
		BackoffBase:       time.Duration(cfg.Pipeline.BackoffBaseMS) * time.Millisecond,
		BackoffCap:        time.Duration(cfg.Pipeline.BackoffCapMS) * time.Millisecond,
		LeaseTTL:          cfg.Pipeline.LeaseTTL,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		TempDir:           cfg.Pipeline.TempDir,
	})

	if err := workerPool.Run(ctx); err != nil {
		logger.Log.Fatal("worker pool 結束", zap.Error(err))
	}
	logger.Log.Info("transcode worker 已關閉")
}
