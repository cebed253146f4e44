package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"hospital-queue/common/database"
	commonmqtt "hospital-queue/common/mqtt"
	rediscommon "hospital-queue/common/redis"
	"hospital-queue/internal/config"
	"hospital-queue/internal/estimator"
	httpapi "hospital-queue/internal/http"
	"hospital-queue/internal/lifecycle"
	"hospital-queue/internal/notifier"
	"hospital-queue/internal/position"
	"hospital-queue/internal/predictor"
	"hospital-queue/internal/queuenumber"
	"hospital-queue/internal/repository"
	"hospital-queue/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Stores 引擎依赖的存储
type Stores struct {
	Queue     repository.QueueRepository
	Reference repository.ReferenceRepository
	Artifacts predictor.ArtifactStore
}

// Engine 排队引擎服务：组件装配 + 周期任务 + HTTP
type Engine struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client

	Registry   *predictor.Registry
	Positions  *position.Resolver
	Estimator  *estimator.Estimator
	Controller *lifecycle.Controller
	Scheduler  *scheduler.Scheduler
	Notifier   notifier.Notifier

	server *Server
	wg     sync.WaitGroup
}

// NewEngine 按配置连接基础设施并创建引擎
func NewEngine(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{config: cfg, logger: logger}

	if cfg.NeedsRedis() {
		e.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), e.redisClient); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	var stores Stores
	switch cfg.Storage {
	case "memory":
		mem := repository.NewMemoryStore()
		stores.Queue, stores.Reference = mem, mem
		logger.Warn("Using in-memory storage, data will not survive restarts")
	default:
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		e.db = db
		if err := repository.EnsureSchema(context.Background(), db); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		stores.Queue = repository.NewPostgresQueueRepository(db, logger)
		stores.Reference = repository.NewPostgresReferenceRepository(db, logger)
	}

	switch cfg.Predictor.Store {
	case "redis":
		stores.Artifacts = predictor.NewRedisArtifactStore(e.redisClient, cfg.Predictor.RedisPrefix)
	default:
		fs, err := predictor.NewFileArtifactStore(cfg.Predictor.ArtifactDir)
		if err != nil {
			return nil, err
		}
		stores.Artifacts = fs
	}

	if cfg.HasChannel("mqtt") {
		client, err := commonmqtt.NewClient(&cfg.MQTT)
		if err != nil {
			return nil, err
		}
		e.mqttClient = client
	}

	n := buildNotifier(cfg, e.redisClient, e.mqttClient, logger)
	e.wire(stores, n)
	return e, nil
}

// NewEngineWithStores 使用现成的存储和通知通道创建引擎（测试 / 嵌入）
func NewEngineWithStores(cfg *config.Config, logger *zap.Logger, stores Stores, n notifier.Notifier) *Engine {
	e := &Engine{config: cfg, logger: logger}
	e.wire(stores, n)
	return e
}

func (e *Engine) wire(stores Stores, n notifier.Notifier) {
	cfg := e.config

	e.Notifier = n
	e.Registry = predictor.NewRegistry(stores.Artifacts, stores.Reference, e.logger.Named("predictor"))
	e.Positions = position.NewResolver(stores.Queue)
	e.Estimator = estimator.NewEstimator(
		e.Positions, e.Registry, stores.Reference, stores.Queue,
		estimator.Config{Weights: cfg.Estimator.Weights, HistoryWindow: cfg.Estimator.HistoryWindow},
		e.logger.Named("estimator"),
	)
	e.Controller = lifecycle.NewController(
		stores.Queue, stores.Reference, e.Estimator,
		queuenumber.NewGenerator(stores.Queue, cfg.QueueNumber.MaxAttempts),
		e.logger.Named("lifecycle"),
	)
	e.Scheduler = scheduler.NewScheduler(
		stores.Queue, e.Estimator, e.Controller, n,
		scheduler.Config{SignificantDelta: cfg.Scheduler.SignificantDelta, ExpireAfter: cfg.Scheduler.ExpireAfter},
		e.logger.Named("scheduler"),
	)

	router := httpapi.NewRouter(e.logger)
	router.RegisterQueueRoutes(httpapi.NewQueueHandler(
		e.Controller, stores.Queue, e.Positions, e.Estimator, e.Scheduler, e.Registry, e.logger.Named("http"),
	))
	e.server = NewServer(cfg.HTTP.Addr, router, e.logger)
}

// buildNotifier 按配置组合通知通道，启用限流时外层包一层 RateLimited
func buildNotifier(cfg *config.Config, redisClient *redis.Client, mqttClient *commonmqtt.Client, logger *zap.Logger) notifier.Notifier {
	var channels notifier.Multi
	for _, ch := range cfg.Notifier.Channels {
		switch ch {
		case "stream":
			channels = append(channels, notifier.NewStreamNotifier(redisClient, cfg.Notifier.Stream, cfg.Notifier.StreamMaxLen))
		case "mqtt":
			channels = append(channels, notifier.NewMQTTNotifier(mqttClient, cfg.Notifier.MQTTTopic))
		case "webhook":
			channels = append(channels, notifier.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.WebhookTimeout))
		case "log":
			channels = append(channels, notifier.NewLogNotifier(logger))
		}
	}
	if len(channels) == 0 {
		channels = append(channels, notifier.NewLogNotifier(logger))
	}

	var n notifier.Notifier = channels
	if len(channels) == 1 {
		n = channels[0]
	}
	if redisClient != nil && cfg.Notifier.RateLimitWindow > 0 {
		n = notifier.NewRateLimited(n, notifier.NewRedisLimiter(redisClient, ""), cfg.Notifier.RateLimitWindow, logger)
	}
	return n
}

// Start 加载模型、启动周期任务和 HTTP 服务；阻塞直到 HTTP 服务退出
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting queue engine",
		zap.String("storage", e.config.Storage),
		zap.String("model_store", e.config.Predictor.Store),
		zap.Strings("notify_channels", e.config.Notifier.Channels),
	)

	if _, err := e.Registry.Reload(ctx); err != nil {
		// 没有模型时估算器退化为启发式公式，不阻止启动
		e.logger.Error("Failed to load models on startup", zap.Error(err))
	}

	e.StartLoops(ctx)
	return e.server.Start()
}

// StartLoops 启动重算、过期清理、超时提醒、模型重载等周期任务
func (e *Engine) StartLoops(ctx context.Context) {
	sc := e.config.Scheduler
	e.runEvery(ctx, "sweep", sc.SweepInterval, func(ctx context.Context) error {
		_, err := e.Scheduler.Sweep(ctx, "")
		return err
	})
	e.runEvery(ctx, "expire", sc.ExpireInterval, func(ctx context.Context) error {
		_, err := e.Scheduler.ExpireStale(ctx)
		return err
	})
	e.runEvery(ctx, "delay_check", sc.DelayInterval, func(ctx context.Context) error {
		_, err := e.Scheduler.FlagDelayed(ctx)
		return err
	})
	e.runEvery(ctx, "model_reload", e.config.Predictor.ReloadInterval, func(ctx context.Context) error {
		_, err := e.Registry.Reload(ctx)
		return err
	})
}

func (e *Engine) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		e.logger.Info("Periodic task disabled", zap.String("task", name))
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.logger.Info("Starting periodic task",
			zap.String("task", name),
			zap.Duration("interval", interval),
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					e.logger.Error("Periodic task failed", zap.String("task", name), zap.Error(err))
				}
			}
		}
	}()
}

// Stop 关闭 HTTP 服务，等待周期任务退出（调用方需先取消 Start 的 ctx），再释放连接
func (e *Engine) Stop(ctx context.Context) error {
	err := e.server.Stop(ctx)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("Timed out waiting for periodic tasks")
	}

	if e.mqttClient != nil {
		e.mqttClient.Disconnect()
	}
	if e.redisClient != nil {
		if cerr := rediscommon.Close(e.redisClient); cerr != nil {
			e.logger.Error("Failed to close redis", zap.Error(cerr))
		}
	}
	if e.db != nil {
		if cerr := database.Close(e.db); cerr != nil {
			e.logger.Error("Failed to close database", zap.Error(cerr))
		}
	}
	return err
}
