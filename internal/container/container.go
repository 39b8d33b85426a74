package container

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/internal/api"
	"github.com/mautops/genqueue/internal/artifact"
	"github.com/mautops/genqueue/internal/config"
	"github.com/mautops/genqueue/internal/database"
	"github.com/mautops/genqueue/internal/live"
	"github.com/mautops/genqueue/internal/metrics"
	"github.com/mautops/genqueue/internal/pipeline"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/mautops/genqueue/internal/provider"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/service"
	"github.com/mautops/genqueue/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// metricsInterval 指标收集间隔
const metricsInterval = 15 * time.Second

// Container 依赖注入容器
// 管理数据库、流水线、后台任务和 HTTP 路由
type Container struct {
	cfg        *config.Config
	logger     *logrus.Logger
	db         *gorm.DB
	controller *pipeline.Controller
	dispatcher *pipeline.Dispatcher
	sweeper    *pipeline.Sweeper
	collector  *metrics.Collector
	hub        *websocket.Hub
	stream     *live.Stream
	jobService service.JobService
	router     *gin.Engine
	watcher    *config.ConfigWatcher
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件,后台任务在 Start 中启动
func NewContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = api.GetLogger()
	}

	// 1. 初始化数据库(带重试机制)
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 草稿存储
	artifacts, err := artifact.New(ctx, cfg.Artifact, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// 3. 进度发布与实时通知
	jobs := repository.NewJobRepository(db)
	broker := live.NewBroker()
	publisher := progress.NewPublisher(db, broker)

	// 4. 流水线控制器,未配置地址的外部服务保持为空
	opts := pipeline.Options{
		Content:   provider.NewContentClient(cfg.Providers),
		Artifacts: artifacts,
		Site: pipeline.SiteContext{
			URL:          cfg.Pipeline.SiteURL,
			SiblingHosts: cfg.Pipeline.SiblingHosts,
		},
		Timeouts: timeoutsFrom(cfg),
		Logger:   logger,
	}
	if cfg.Providers.ImageURL != "" {
		opts.Images = provider.NewImageClient(cfg.Providers)
	}
	if cfg.Providers.EnhancerURL != "" {
		opts.Enhancer = provider.NewEnhancerClient(cfg.Providers)
	}
	controller := pipeline.NewController(jobs, publisher, opts)

	// 5. 调度器、清扫器和指标收集器
	dispatcher := pipeline.NewDispatcher(controller, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	sweeper := pipeline.NewSweeper(jobs, controller.Locks(), dispatcher, cfg.Pipeline.StaleAfter, cfg.Pipeline.SweepInterval, logger)
	collector := metrics.NewCollector(db, metricsInterval, logger)

	// 6. 实时状态通道
	stream := live.NewStream(live.NewStoreSource(jobs, publisher), broker, live.Options{
		PollInterval:      cfg.Live.PollInterval,
		IdleTimeout:       cfg.Live.IdleTimeout,
		HeartbeatInterval: cfg.Live.HeartbeatInterval,
	}, logger)
	hub := websocket.NewHub()

	// 7. 服务
	jobService := service.NewJobService(service.JobServiceDeps{
		Jobs:       jobs,
		History:    repository.NewStateHistoryRepository(db),
		Controller: controller,
		Publisher:  publisher,
		Enqueuer:   dispatcher,
		Notifier:   broker,
		AuditLog:   service.NewAuditLogService(repository.NewAuditLogRepository(db)),
		BatchLimit: cfg.Pipeline.BatchLimit,
		Logger:     logger,
	})
	statsService := service.NewStatisticsService(db)

	// 8. 路由
	router := api.SetupRoutes(api.RouterOptions{
		Config:       cfg,
		DB:           db,
		JobService:   jobService,
		StatsService: statsService,
		Stream:       stream,
		Hub:          hub,
		Queue:        dispatcher,
		Logger:       logger,
	})

	return &Container{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		controller: controller,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		collector:  collector,
		hub:        hub,
		stream:     stream,
		jobService: jobService,
		router:     router,
	}, nil
}

// timeoutsFrom 从配置读取阶段超时
func timeoutsFrom(cfg *config.Config) pipeline.Timeouts {
	return pipeline.Timeouts{
		Content: cfg.Pipeline.ContentTimeout,
		Images:  cfg.Pipeline.ImageTimeout,
		Enhance: cfg.Pipeline.EnhanceTimeout,
	}
}

// WatchConfig 监听配置文件,热更新阶段超时和日志级别
func (c *Container) WatchConfig(configPath string) error {
	if configPath == "" {
		return nil
	}
	w := config.NewConfigWatcher(c.cfg, configPath)
	w.OnConfigChange(c.applyConfig)
	if err := w.Start(); err != nil {
		return err
	}
	c.watcher = w
	return nil
}

// applyConfig 应用可热更新的配置项
func (c *Container) applyConfig(cfg *config.Config) {
	c.controller.SetTimeouts(timeoutsFrom(cfg))
	api.ApplyLogLevel(c.logger, cfg.Log.Level)
	c.logger.WithFields(logrus.Fields{
		"log_level":       c.logger.GetLevel().String(),
		"content_timeout": cfg.Pipeline.ContentTimeout.String(),
		"image_timeout":   cfg.Pipeline.ImageTimeout.String(),
		"enhance_timeout": cfg.Pipeline.EnhanceTimeout.String(),
	}).Info("Config reloaded")
}

// Start 启动后台任务
func (c *Container) Start() {
	go c.hub.Run()
	c.dispatcher.Start()
	c.sweeper.Start()
	c.collector.Start()
}

// Stop 停止后台任务,等待进行中的阶段结束或 ctx 超时
func (c *Container) Stop(ctx context.Context) error {
	if c.watcher != nil {
		c.watcher.Stop()
	}
	c.hub.Stop()
	c.sweeper.Stop()
	c.collector.Stop()
	if err := c.dispatcher.Stop(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		c.controller.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Router 获取 HTTP 路由
func (c *Container) Router() *gin.Engine {
	return c.router
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Controller 获取流水线控制器
func (c *Container) Controller() *pipeline.Controller {
	return c.controller
}

// JobService 获取任务服务
func (c *Container) JobService() service.JobService {
	return c.jobService
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.db != nil {
		sqlDB, err := c.db.DB()
		if err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}
