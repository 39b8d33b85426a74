package metrics

import (
	"context"
	"time"

	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Collector 指标收集器
// 定期刷新数据库连接数和任务状态分布
type Collector struct {
	db       *gorm.DB
	jobs     repository.JobRepository
	interval time.Duration
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器
func NewCollector(db *gorm.DB, interval time.Duration, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		jobs:     repository.NewJobRepository(db),
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// CollectOnce 执行一次收集
func (c *Collector) CollectOnce(ctx context.Context) error {
	_ = UpdateDatabaseConnections(c.db)

	counts, err := c.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, s := range statemachine.All() {
		UpdateJobsByStatus(s.String(), float64(counts[s]))
	}
	return nil
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.CollectOnce(c.ctx); err != nil {
				c.logger.WithError(err).Warn("Failed to collect job metrics")
			}
		}
	}
}
