package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/internal/database"
	"gorm.io/gorm"
)

// QueueProbe 调度队列状态
type QueueProbe interface {
	Len() int
}

// HealthController 健康检查控制器
type HealthController struct {
	db    *gorm.DB
	queue QueueProbe
}

// NewHealthController 创建健康检查控制器,queue 可以为 nil
func NewHealthController(db *gorm.DB, queue QueueProbe) *HealthController {
	return &HealthController{
		db:    db,
		queue: queue,
	}
}

// Check 健康检查
func (c *HealthController) Check(ctx *gin.Context) {
	status := "healthy"
	checks := make(map[string]interface{})

	// 检查数据库连接
	if c.db != nil {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()
		if err := database.CheckHealth(checkCtx, c.db); err != nil {
			status = "unhealthy"
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	if c.queue != nil {
		checks["dispatch_queue_depth"] = c.queue.Len()
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	ctx.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}
