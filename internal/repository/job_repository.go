package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/statemachine"
	"gorm.io/gorm"
)

// JobFilter 任务列表过滤条件,各条件之间为 AND
type JobFilter struct {
	Status       *statemachine.Status
	Priority     *int
	CreatedAfter *time.Time
	Search       string
	Page         int
	PageSize     int
}

// TransitionRequest 状态转换请求
type TransitionRequest struct {
	From     statemachine.Status // 期望的当前状态,为空表示不限制
	To       statemachine.Status
	Fields   map[string]interface{} // 与状态一起写入的字段
	Reason   string
	Operator string
}

// JobRepository 生成任务仓储接口
type JobRepository interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	FindByID(ctx context.Context, id string) (*model.GenerationJob, error)
	List(ctx context.Context, filter *JobFilter) ([]*model.GenerationJob, int64, error)
	Transition(ctx context.Context, id string, req *TransitionRequest) (*model.GenerationJob, error)
	UpdateFields(ctx context.Context, id string, expected statemachine.Status, fields map[string]interface{}) error
	SetProgress(ctx context.Context, id string, stage string, percentage int) error
	LinkArtifact(ctx context.Context, id string, artifactID string) error
	Delete(ctx context.Context, id string) error
	FindByStatus(ctx context.Context, status statemachine.Status, updatedBefore time.Time, limit int) ([]*model.GenerationJob, error)
	CountByStatus(ctx context.Context) (map[statemachine.Status]int64, error)
}

// jobRepository 生成任务仓储实现
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建生成任务仓储
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create 保存新任务
func (r *jobRepository) Create(ctx context.Context, job *model.GenerationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %s", model.ErrValidation, err.Error())
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// FindByID 根据 ID 查找任务
func (r *jobRepository) FindByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	var job model.GenerationJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, wrapNotFound(err, id)
	}
	return &job, nil
}

// List 按过滤条件分页查询,按创建时间倒序
func (r *jobRepository) List(ctx context.Context, filter *JobFilter) ([]*model.GenerationJob, int64, error) {
	if filter == nil {
		filter = &JobFilter{}
	}
	query := r.db.WithContext(ctx).Model(&model.GenerationJob{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where("(LOWER(topic) LIKE ? ESCAPE '\\' OR LOWER(title) LIKE ? ESCAPE '\\')", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var jobs []*model.GenerationJob
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query jobs: %w", err)
	}
	return jobs, total, nil
}

// Transition 校验并执行状态转换,同时写入状态历史
// 更新带有 status 条件,并发修改时返回 ErrConflict
func (r *jobRepository) Transition(ctx context.Context, id string, req *TransitionRequest) (*model.GenerationJob, error) {
	var updated model.GenerationJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 读取当前状态
		var job model.GenerationJob
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			return wrapNotFound(err, id)
		}
		if req.From != "" && job.Status != req.From {
			return fmt.Errorf("%w: job %s is %s, expected %s", model.ErrConflict, id, job.Status, req.From)
		}

		// 2. 状态机校验
		if !statemachine.CanTransition(job.Status, req.To) {
			return fmt.Errorf("%w: illegal transition from %s to %s", model.ErrValidation, job.Status, req.To)
		}

		// 3. 条件更新
		fields := make(map[string]interface{}, len(req.Fields)+2)
		for k, v := range req.Fields {
			fields[k] = v
		}
		fields["status"] = req.To
		fields["updated_at"] = time.Now()
		res := tx.Model(&model.GenerationJob{}).
			Where("id = ? AND status = ?", id, job.Status).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("failed to update job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: job %s changed concurrently", model.ErrConflict, id)
		}

		// 4. 保存状态历史
		operator := req.Operator
		if operator == "" {
			operator = "system"
		}
		history := &model.StateHistoryModel{
			ID:        uuid.New().String(),
			JobID:     id,
			FromState: string(job.Status),
			ToState:   string(req.To),
			Reason:    req.Reason,
			Operator:  operator,
			CreatedAt: time.Now(),
		}
		if err := NewStateHistoryRepository(tx).Save(ctx, history); err != nil {
			return fmt.Errorf("failed to save state history: %w", err)
		}

		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateFields 在状态仍为 expected 时更新字段,不改变状态
func (r *jobRepository) UpdateFields(ctx context.Context, id string, expected statemachine.Status, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s is no longer %s", model.ErrConflict, id, expected)
	}
	return nil
}

// SetProgress 更新任务级进度字段
func (r *jobRepository) SetProgress(ctx context.Context, id string, stage string, percentage int) error {
	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage":       stage,
			"progress_percentage": percentage,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s", model.ErrNotFound, id)
	}
	return nil
}

// LinkArtifact 设置草稿引用,已设置时返回 ErrPrecondition
func (r *jobRepository) LinkArtifact(ctx context.Context, id string, artifactID string) error {
	res := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("id = ? AND linked_artifact_id IS NULL", id).
		Updates(map[string]interface{}{
			"linked_artifact_id": artifactID,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to link artifact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s already has a linked artifact", model.ErrPrecondition, id)
	}
	return nil
}

// Delete 删除任务及其进度事件和状态历史
func (r *jobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&model.ProgressEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete progress events: %w", err)
		}
		if err := tx.Where("job_id = ?", id).Delete(&model.StateHistoryModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete state history: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.GenerationJob{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: job %s", model.ErrNotFound, id)
		}
		return nil
	})
}

// FindByStatus 查找某状态下 updated_at 早于给定时间的任务
func (r *jobRepository) FindByStatus(ctx context.Context, status statemachine.Status, updatedBefore time.Time, limit int) ([]*model.GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []*model.GenerationJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("priority ASC").Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs by status: %w", err)
	}
	return jobs, nil
}

// CountByStatus 按状态统计任务数
func (r *jobRepository) CountByStatus(ctx context.Context) (map[statemachine.Status]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	counts := make(map[statemachine.Status]int64, len(rows))
	for _, row := range rows {
		counts[statemachine.Status(row.Status)] = row.Count
	}
	return counts, nil
}

// wrapNotFound 将 gorm.ErrRecordNotFound 转换为 model.ErrNotFound
func wrapNotFound(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: job %s", model.ErrNotFound, id)
	}
	return fmt.Errorf("failed to find job: %w", err)
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
