package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/genqueue/internal/model"
	"gorm.io/gorm"
)

// ProgressEventRepository 进度事件仓储接口,只追加
type ProgressEventRepository interface {
	Append(ctx context.Context, event *model.ProgressEvent) error
	FindByJobID(ctx context.Context, jobID string) ([]*model.ProgressEvent, error)
	Latest(ctx context.Context, jobID string) (*model.ProgressEvent, error)
}

// progressEventRepository 进度事件仓储实现
type progressEventRepository struct {
	db *gorm.DB
}

// NewProgressEventRepository 创建进度事件仓储
func NewProgressEventRepository(db *gorm.DB) ProgressEventRepository {
	return &progressEventRepository{db: db}
}

// Append 追加事件
func (r *progressEventRepository) Append(ctx context.Context, event *model.ProgressEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %s", model.ErrValidation, err.Error())
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append progress event: %w", err)
	}
	return nil
}

// FindByJobID 按追加顺序返回任务的全部事件
func (r *progressEventRepository) FindByJobID(ctx context.Context, jobID string) ([]*model.ProgressEvent, error) {
	var events []*model.ProgressEvent
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find progress events: %w", err)
	}
	return events, nil
}

// Latest 返回最近追加的事件,没有事件时返回 nil
func (r *progressEventRepository) Latest(ctx context.Context, jobID string) (*model.ProgressEvent, error) {
	var event model.ProgressEvent
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq DESC").First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest progress event: %w", err)
	}
	return &event, nil
}
