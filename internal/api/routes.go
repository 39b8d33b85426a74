package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/docs"
	"github.com/mautops/genqueue/internal/config"
	"github.com/mautops/genqueue/internal/live"
	"github.com/mautops/genqueue/internal/service"
	"github.com/mautops/genqueue/internal/websocket"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// RouterOptions 路由依赖,Stream 与 Hub 为空时不注册实时通道
type RouterOptions struct {
	Config       *config.Config
	DB           *gorm.DB
	JobService   service.JobService
	StatsService service.StatisticsService
	Stream       *live.Stream
	Hub          *websocket.Hub
	Queue        QueueProbe
	Logger       *logrus.Logger
}

// SetupRoutes 配置路由
func SetupRoutes(opts RouterOptions) *gin.Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware(opts.Logger))
	router.Use(SecurityHeadersMiddleware(config.IsProduction(cfg)))
	router.Use(CORSMiddleware(cfg.CORS))
	if cfg.Tracing.Enabled {
		router.Use(TracingMiddleware())
	}
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(opts.DB, opts.Queue)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// WebSocket 路由
	if opts.Hub != nil && opts.Stream != nil {
		router.GET("/ws/jobs/:id", websocket.WebSocketHandler(opts.Hub, opts.Stream))
	}

	// Swagger UI 路由
	docs.SwaggerInfo.Host = swaggerHost(cfg.Server)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.URL("/swagger/doc.json"),
	))

	// API v1 路由组
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	{
		v1.GET("/statuses", Statuses)

		jobController := NewJobController(opts.JobService, opts.StatsService)
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobController.Create)
			jobs.GET("", jobController.List)
			jobs.GET("/stats", jobController.Stats)
			jobs.POST("/batch/status", jobController.BatchUpdateStatus)
			jobs.POST("/batch/delete", jobController.BatchDelete)
			jobs.GET("/:id", jobController.Get)
			jobs.PATCH("/:id", jobController.Update)
			jobs.DELETE("/:id", jobController.Delete)
			jobs.POST("/:id/retry", jobController.Retry)
			jobs.POST("/:id/regenerate", jobController.Regenerate)
			jobs.POST("/:id/phases/:phase", jobController.TriggerPhase)
			jobs.POST("/:id/artifact", jobController.LinkArtifact)
			jobs.POST("/:id/progress", jobController.AppendProgress)
			jobs.GET("/:id/progress", jobController.Progress)
			jobs.GET("/:id/timeline", jobController.Timeline)
			jobs.GET("/:id/history", jobController.History)
			if opts.Stream != nil {
				jobs.GET("/:id/events", SSEHandler(opts.Stream))
			}
		}
	}

	return router
}

// swaggerHost 文档中的服务地址,监听 0.0.0.0 时使用 localhost
func swaggerHost(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Port)
}
