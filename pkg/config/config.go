package config

import "time"

// PipelineAPI definition pipeline_api YAML structure
type PipelineAPI struct {
	Port string `mapstructure:"port"`
	IP   string `mapstructure:"ip"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	MongoDB    DatabaseConfig `mapstructure:"mongo"`
	RabbitMQ   RabbitConfig   `mapstructure:"rabbitmq"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	RedisCache RedisConfig    `mapstructure:"redis"`
}

// TranscodeWorker definition transcode_worker YAML structure
type TranscodeWorker struct {
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	MongoDB    DatabaseConfig `mapstructure:"mongo"`
	RabbitMQ   RabbitConfig   `mapstructure:"rabbitmq"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	KafKa      KafkaConfig    `mapstructure:"kafka"`
	RedisLease RedisConfig    `mapstructure:"redis"`

	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// PipelineConfig 轉碼流水線調度參數
type PipelineConfig struct {
	// WorkerCount bound simultaneous外部轉碼工具調用數
	WorkerCount int `mapstructure:"worker_count"`
	// RetryBudget 每個 rendition 的最大嘗試次數
	RetryBudget int `mapstructure:"retry_budget"`
	// BackoffBaseMS 指數回退基值（毫秒）
	BackoffBaseMS int `mapstructure:"backoff_base_ms"`
	// BackoffCapMS 指數回退上限（毫秒）
	BackoffCapMS int `mapstructure:"backoff_cap_ms"`
	// LeaseTTL worker 對 job 的租約時長
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	// HeartbeatInterval 租約續期間隔，需小於 LeaseTTL
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// TempDir 轉碼暫存目錄
	TempDir string `mapstructure:"temp_dir"`
	// FFmpegPath / FFprobePath 外部轉碼工具路徑
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

// RabbitConfig definition rabbitmq setting
type RabbitConfig struct {
	IP       string `mapstructure:"ip"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
