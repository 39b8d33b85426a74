package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"gorm.io/gorm"
)

// DefaultStatsWindow 统计最近创建数的默认时间窗口
const DefaultStatsWindow = 24 * time.Hour

// StatisticsService 统计服务接口
type StatisticsService interface {
	Stats(ctx context.Context, window time.Duration) (*JobStatistics, error)
}

// JobStatistics 任务统计
type JobStatistics struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"` // 包含全部状态,没有任务的状态为 0
	Active   int64            `json:"active"`    // queued + generating
	Window   string           `json:"window"`
	Recent   int64            `json:"recent"` // 时间窗口内创建的任务数
	// AverageGenerationTime 内容阶段平均耗时(秒),只统计开始与完成时间都存在的任务
	AverageGenerationTime *float64 `json:"average_generation_time"`
	TimedJobs             int64    `json:"timed_jobs"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db   *gorm.DB
	jobs repository.JobRepository
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{
		db:   db,
		jobs: repository.NewJobRepository(db),
	}
}

// Stats 按状态计数,统计时间窗口内的新任务以及平均生成耗时
func (s *statisticsService) Stats(ctx context.Context, window time.Duration) (*JobStatistics, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}

	// 1. 按状态计数,补齐没有任务的状态
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &JobStatistics{
		ByStatus: make(map[string]int64, len(statemachine.All())),
		Window:   window.String(),
	}
	for _, status := range statemachine.All() {
		n := counts[status]
		stats.ByStatus[string(status)] = n
		stats.Total += n
		if status.IsActive() {
			stats.Active += n
		}
	}

	// 2. 时间窗口内创建的任务数
	err = s.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("created_at >= ?", time.Now().Add(-window)).
		Count(&stats.Recent).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count recent jobs: %w", err)
	}

	// 3. 平均生成耗时
	var rows []struct {
		GenerationStartedAt   *time.Time
		GenerationCompletedAt *time.Time
	}
	err = s.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Select("generation_started_at, generation_completed_at").
		Where("generation_started_at IS NOT NULL AND generation_completed_at IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load generation times: %w", err)
	}
	var total float64
	for _, row := range rows {
		if row.GenerationStartedAt == nil || row.GenerationCompletedAt == nil {
			continue
		}
		// 完成时间早于开始时间说明属于上一次尝试
		if row.GenerationCompletedAt.Before(*row.GenerationStartedAt) {
			continue
		}
		total += row.GenerationCompletedAt.Sub(*row.GenerationStartedAt).Seconds()
		stats.TimedJobs++
	}
	if stats.TimedJobs > 0 {
		avg := total / float64(stats.TimedJobs)
		stats.AverageGenerationTime = &avg
	}

	return stats, nil
}
