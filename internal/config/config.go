package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hospital-queue/common/config"
	"hospital-queue/internal/estimator"
)

// Config 排队引擎配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// Storage 存储后端：postgres / memory（memory 仅用于联调）
	Storage string

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}

	Estimator struct {
		HistoryWindow time.Duration
		Weights       estimator.Weights
	}

	Scheduler struct {
		SweepInterval    time.Duration
		ExpireInterval   time.Duration
		DelayInterval    time.Duration
		SignificantDelta int
		ExpireAfter      time.Duration
	}

	Predictor struct {
		Store          string // file / redis
		ArtifactDir    string
		RedisPrefix    string
		ReloadInterval time.Duration
	}

	Notifier struct {
		Channels        []string // stream / mqtt / webhook / log
		Stream          string
		StreamMaxLen    int64
		MQTTTopic       string
		WebhookURL      string
		WebhookTimeout  time.Duration
		RateLimitWindow time.Duration
	}

	QueueNumber struct {
		MaxAttempts int
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "hospital_queue",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379", PoolSize: 10, DialTimeout: 5 * time.Second}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "queue-engine", QoS: 1}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Storage = getEnv("QUEUE_STORAGE", "postgres")
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 估算器
	cfg.Estimator.HistoryWindow = time.Duration(getEnvInt("ESTIMATOR_HISTORY_DAYS", 30)) * 24 * time.Hour
	w := estimator.DefaultWeights()
	w.FullHistorical = getEnvFloat("ESTIMATOR_W_FULL_HISTORICAL", w.FullHistorical)
	w.FullBase = getEnvFloat("ESTIMATOR_W_FULL_BASE", w.FullBase)
	w.FullForecast = getEnvFloat("ESTIMATOR_W_FULL_FORECAST", w.FullForecast)
	w.ForecastBase = getEnvFloat("ESTIMATOR_W_FORECAST_BASE", w.ForecastBase)
	w.ForecastForecast = getEnvFloat("ESTIMATOR_W_FORECAST_FORECAST", w.ForecastForecast)
	w.HistoricalHistorical = getEnvFloat("ESTIMATOR_W_HISTORICAL_HISTORICAL", w.HistoricalHistorical)
	w.HistoricalBase = getEnvFloat("ESTIMATOR_W_HISTORICAL_BASE", w.HistoricalBase)
	w.PriorityStep = getEnvFloat("ESTIMATOR_PRIORITY_STEP", w.PriorityStep)
	w.PriorityFloor = getEnvFloat("ESTIMATOR_PRIORITY_FLOOR", w.PriorityFloor)
	w.CapacityRelief = getEnvFloat("ESTIMATOR_CAPACITY_RELIEF", w.CapacityRelief)
	w.ServiceFloor = getEnvFloat("ESTIMATOR_SERVICE_FLOOR", w.ServiceFloor)
	cfg.Estimator.Weights = w

	// 调度
	cfg.Scheduler.SweepInterval = config.EnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	cfg.Scheduler.ExpireInterval = config.EnvDuration("EXPIRE_INTERVAL", time.Hour)
	cfg.Scheduler.DelayInterval = config.EnvDuration("DELAY_CHECK_INTERVAL", 3*time.Minute)
	cfg.Scheduler.SignificantDelta = getEnvInt("SIGNIFICANT_DELTA_MINUTES", 5)
	cfg.Scheduler.ExpireAfter = config.EnvDuration("EXPIRE_AFTER", 24*time.Hour)

	// 预测模型
	cfg.Predictor.Store = getEnv("MODEL_STORE", "file")
	cfg.Predictor.ArtifactDir = getEnv("MODEL_DIR", "./models")
	cfg.Predictor.RedisPrefix = getEnv("MODEL_REDIS_PREFIX", "queue:model:")
	cfg.Predictor.ReloadInterval = config.EnvDuration("MODEL_RELOAD_INTERVAL", 10*time.Minute)

	// 通知
	cfg.Notifier.Channels = splitList(getEnv("NOTIFY_CHANNELS", "stream"))
	cfg.Notifier.Stream = getEnv("NOTIFY_STREAM", "queue:events")
	cfg.Notifier.StreamMaxLen = int64(getEnvInt("NOTIFY_STREAM_MAXLEN", 10000))
	cfg.Notifier.MQTTTopic = getEnv("NOTIFY_MQTT_TOPIC", "queue/notifications")
	cfg.Notifier.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Notifier.WebhookTimeout = config.EnvDuration("NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second)
	cfg.Notifier.RateLimitWindow = config.EnvDuration("NOTIFY_RATE_LIMIT", 10*time.Minute)

	cfg.QueueNumber.MaxAttempts = getEnvInt("QUEUE_NUMBER_MAX_ATTEMPTS", 5)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported QUEUE_STORAGE: %s", c.Storage)
	}
	switch c.Predictor.Store {
	case "file", "redis":
	default:
		return fmt.Errorf("unsupported MODEL_STORE: %s", c.Predictor.Store)
	}
	for _, ch := range c.Notifier.Channels {
		switch ch {
		case "stream", "mqtt", "log":
		case "webhook":
			if c.Notifier.WebhookURL == "" {
				return fmt.Errorf("NOTIFY_WEBHOOK_URL is required for webhook channel")
			}
		default:
			return fmt.Errorf("unsupported notify channel: %s", ch)
		}
	}
	if c.Scheduler.SignificantDelta < 0 {
		return fmt.Errorf("SIGNIFICANT_DELTA_MINUTES must be >= 0")
	}
	return nil
}

// HasChannel 是否启用某个通知通道
func (c *Config) HasChannel(name string) bool {
	for _, ch := range c.Notifier.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// NeedsRedis 是否有组件依赖 Redis
func (c *Config) NeedsRedis() bool {
	return c.Predictor.Store == "redis" || c.HasChannel("stream") || c.Notifier.RateLimitWindow > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
