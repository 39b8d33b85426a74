package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mautops/genqueue/internal/metrics"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/pipeline"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 审计日志资源类型与操作
const (
	resourceTypeJob = "job"

	ActionCreate            = "create"
	ActionUpdateStatus      = "update_status"
	ActionDelete            = "delete"
	ActionRetry             = "retry"
	ActionRegenerate        = "regenerate"
	ActionTriggerPhase      = "trigger_phase"
	ActionLinkArtifact      = "link_artifact"
	ActionBatchUpdateStatus = "batch_update_status"
	ActionBatchDelete       = "batch_delete"
)

// MaxPageSize 列表单页最大数量
const MaxPageSize = 100

// JobService 生成任务队列操作
type JobService interface {
	Create(ctx context.Context, req *CreateJobRequest) (*model.GenerationJob, error)
	Get(ctx context.Context, id string) (*JobDetail, error)
	List(ctx context.Context, req *ListJobsRequest) ([]*model.GenerationJob, int64, error)
	UpdateStatus(ctx context.Context, id string, req *UpdateStatusRequest) (*model.GenerationJob, error)
	Delete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) (*model.GenerationJob, error)
	Regenerate(ctx context.Context, id string) (*model.GenerationJob, error)
	TriggerPhase(ctx context.Context, id string, phase string) error
	LinkArtifact(ctx context.Context, id string) (*model.GenerationJob, error)
	AppendProgress(ctx context.Context, id string, req *AppendProgressRequest) (*model.ProgressEvent, error)
	Progress(ctx context.Context, id string) (*progress.View, error)
	Timeline(ctx context.Context, id string) ([]*model.ProgressEvent, error)
	History(ctx context.Context, id string) ([]*model.StateHistoryModel, error)
	BatchUpdateStatus(ctx context.Context, req *BatchStatusRequest) (*BatchResult, error)
	BatchDelete(ctx context.Context, req *BatchDeleteRequest) (*BatchResult, error)
}

// CreateJobRequest 创建任务请求,生成参数与优先级平铺在同一层
type CreateJobRequest struct {
	model.GenerationConfig
	Priority int `json:"priority"`
}

// ListJobsRequest 列表查询参数
// status 与 priority 支持 "all",date_range 支持 today/week/month/all
type ListJobsRequest struct {
	Status    string `form:"status"`
	Priority  string `form:"priority"`
	DateRange string `form:"date_range"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// UpdateStatusRequest 单字段状态修改
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// AppendProgressRequest 外部上报进度
type AppendProgressRequest struct {
	Phase              string `json:"phase"`
	StageNumber        *int   `json:"stage_number"`
	StageName          string `json:"stage_name"`
	DetailText         string `json:"detail_text"`
	ProgressPercentage int    `json:"progress_percentage"`
}

// BatchStatusRequest 批量修改状态
type BatchStatusRequest struct {
	IDs    []string `json:"ids" binding:"required"`
	Status string   `json:"status" binding:"required"`
	Reason string   `json:"reason"`
}

// BatchDeleteRequest 批量删除
type BatchDeleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// BatchFailure 批量操作中单个任务的失败
type BatchFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult 批量操作的部分成功汇总
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// JobDetail 任务详情,附带进度历史与展示字段
type JobDetail struct {
	*model.GenerationJob
	DisplayTitle    string                 `json:"display_title"`
	Excerpt         string                 `json:"excerpt,omitempty"`
	StatusMetadata  statemachine.Metadata  `json:"status_metadata"`
	ProgressHistory []*model.ProgressEvent `json:"progress_history"`
}

// JobServiceDeps 任务服务依赖
type JobServiceDeps struct {
	Jobs       repository.JobRepository
	History    repository.StateHistoryRepository
	Controller *pipeline.Controller
	Publisher  *progress.Publisher
	Enqueuer   pipeline.Enqueuer
	Notifier   progress.Notifier
	AuditLog   AuditLogService
	BatchLimit int
	Logger     *logrus.Logger
}

type jobService struct {
	jobs       repository.JobRepository
	history    repository.StateHistoryRepository
	ctrl       *pipeline.Controller
	publisher  *progress.Publisher
	enqueuer   pipeline.Enqueuer
	notifier   progress.Notifier
	auditLog   AuditLogService
	batchLimit int
	logger     *logrus.Logger
}

// NewJobService 创建任务服务
func NewJobService(deps JobServiceDeps) JobService {
	if deps.BatchLimit <= 0 {
		deps.BatchLimit = 8
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &jobService{
		jobs:       deps.Jobs,
		history:    deps.History,
		ctrl:       deps.Controller,
		publisher:  deps.Publisher,
		enqueuer:   deps.Enqueuer,
		notifier:   deps.Notifier,
		auditLog:   deps.AuditLog,
		batchLimit: deps.BatchLimit,
		logger:     deps.Logger,
	}
}

// Create 校验参数并创建排队任务,立即返回,内容阶段由调度器异步执行
func (s *jobService) Create(ctx context.Context, req *CreateJobRequest) (*model.GenerationJob, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is required", model.ErrValidation)
	}
	job, err := model.NewGenerationJob(&req.GenerationConfig, req.Priority)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	// 记录业务指标
	metrics.RecordJobCreated()

	s.dispatch(job.ID)
	s.record(ctx, ActionCreate, job.ID, map[string]interface{}{
		"topic":    job.Topic,
		"priority": job.Priority,
	})
	return job, nil
}

// Get 获取任务详情
func (s *jobService) Get(ctx context.Context, id string) (*JobDetail, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := job.GetConfig()
	if err != nil {
		return nil, err
	}
	result, err := job.GetResult()
	if err != nil {
		return nil, err
	}
	events, err := s.publisher.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobDetail{
		GenerationJob:   job,
		DisplayTitle:    pipeline.ResolveTitle(result, cfg),
		Excerpt:         pipeline.ResolveExcerpt(result),
		StatusMetadata:  statemachine.MetadataFor(string(job.Status)),
		ProgressHistory: events,
	}, nil
}

// List 按过滤条件分页查询
func (s *jobService) List(ctx context.Context, req *ListJobsRequest) ([]*model.GenerationJob, int64, error) {
	filter, err := BuildJobFilter(req, time.Now())
	if err != nil {
		return nil, 0, err
	}
	return s.jobs.List(ctx, filter)
}

// BuildJobFilter 将查询参数转换为仓储过滤条件
func BuildJobFilter(req *ListJobsRequest, now time.Time) (*repository.JobFilter, error) {
	if req == nil {
		req = &ListJobsRequest{}
	}
	filter := &repository.JobFilter{
		Search:   req.Search,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	if raw := strings.TrimSpace(req.Status); raw != "" && !strings.EqualFold(raw, "all") {
		status, err := statemachine.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", model.ErrValidation, err.Error())
		}
		filter.Status = &status
	}

	if raw := strings.TrimSpace(req.Priority); raw != "" && !strings.EqualFold(raw, "all") {
		priority, err := strconv.Atoi(raw)
		if err != nil || priority < model.MinPriority || priority > model.MaxPriority {
			return nil, fmt.Errorf("%w: priority must be \"all\" or between %d and %d", model.ErrValidation, model.MinPriority, model.MaxPriority)
		}
		filter.Priority = &priority
	}

	after, err := DateRangeStart(req.DateRange, now)
	if err != nil {
		return nil, err
	}
	filter.CreatedAfter = after
	return filter, nil
}

// DateRangeStart 日期范围的起始时间
// today 为当天零点,week 为最近 7 天,month 为最近 30 天,all 或空不限制
func DateRangeStart(raw string, now time.Time) (*time.Time, error) {
	var start time.Time
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return nil, nil
	case "today":
		y, m, d := now.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case "week":
		start = now.AddDate(0, 0, -7)
	case "month":
		start = now.AddDate(0, 0, -30)
	default:
		return nil, fmt.Errorf("%w: unknown date_range %q", model.ErrValidation, raw)
	}
	return &start, nil
}

// UpdateStatus 修改单个任务状态,非法转换返回校验错误且不做修改
// 目标状态为 queued 时按重试处理
func (s *jobService) UpdateStatus(ctx context.Context, id string, req *UpdateStatusRequest) (*model.GenerationJob, error) {
	job, err := s.updateStatus(ctx, id, req.Status, req.Reason)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ActionUpdateStatus, id, map[string]interface{}{
		"status": job.Status,
		"reason": req.Reason,
	})
	return job, nil
}

func (s *jobService) updateStatus(ctx context.Context, id, rawStatus, reason string) (*model.GenerationJob, error) {
	to, err := statemachine.Parse(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrValidation, err.Error())
	}
	if to == statemachine.StatusQueued {
		current, err := s.jobs.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !statemachine.CanTransition(current.Status, to) {
			return nil, fmt.Errorf("%w: illegal transition from %s to %s", model.ErrValidation, current.Status, to)
		}
		return s.retry(ctx, id)
	}

	job, err := s.ctrl.SetStatus(ctx, id, to, reason, GetOperator(ctx))
	if err != nil {
		return nil, err
	}
	s.notify(id)
	return job, nil
}

// Delete 删除任务记录,任何状态都可以删除
// 不等待任务锁,进行中的阶段结果会被丢弃
func (s *jobService) Delete(ctx context.Context, id string) error {
	if err := s.deleteJob(ctx, id); err != nil {
		return err
	}
	s.record(ctx, ActionDelete, id, nil)
	return nil
}

func (s *jobService) deleteJob(ctx context.Context, id string) error {
	if err := s.jobs.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(id)
	return nil
}

// Retry 重试失败或被拒绝的任务并重新入队
func (s *jobService) Retry(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := s.retry(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ActionRetry, id, map[string]interface{}{
		"failed_phase": job.FailedPhase,
	})
	return job, nil
}

func (s *jobService) retry(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := s.ctrl.Retry(ctx, id, GetOperator(ctx))
	if err != nil {
		return nil, err
	}
	s.notify(id)
	s.dispatch(id)
	return job, nil
}

// Regenerate 以相同参数创建新任务
func (s *jobService) Regenerate(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := s.ctrl.Regenerate(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.RecordJobCreated()
	s.dispatch(job.ID)
	s.record(ctx, ActionRegenerate, id, map[string]interface{}{
		"new_job_id": job.ID,
	})
	return job, nil
}

// TriggerPhase 手动触发图片或增强阶段,阶段在后台执行
func (s *jobService) TriggerPhase(ctx context.Context, id string, raw string) error {
	phase, err := pipeline.ParseTriggerablePhase(raw)
	if err != nil {
		return err
	}
	if err := s.ctrl.TriggerPhase(ctx, id, phase); err != nil {
		return err
	}
	s.record(ctx, ActionTriggerPhase, id, map[string]interface{}{
		"phase": phase,
	})
	return nil
}

// LinkArtifact 创建草稿并关联到任务
func (s *jobService) LinkArtifact(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := s.ctrl.LinkArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(id)
	s.record(ctx, ActionLinkArtifact, id, map[string]interface{}{
		"artifact_id": job.LinkedArtifactID,
	})
	return job, nil
}

// AppendProgress 追加外部上报的进度事件
func (s *jobService) AppendProgress(ctx context.Context, id string, req *AppendProgressRequest) (*model.ProgressEvent, error) {
	if req == nil {
		req = &AppendProgressRequest{}
	}
	stage := strings.TrimSpace(req.StageName)
	if stage == "" {
		stage = "Progress update"
	}
	return s.publisher.Append(ctx, id, &model.ProgressEvent{
		Phase:              req.Phase,
		StageNumber:        req.StageNumber,
		StageName:          stage,
		DetailText:         req.DetailText,
		ProgressPercentage: req.ProgressPercentage,
	})
}

// Progress 当前进度视图
func (s *jobService) Progress(ctx context.Context, id string) (*progress.View, error) {
	return s.publisher.CurrentView(ctx, id)
}

// Timeline 去重后的进度时间线
func (s *jobService) Timeline(ctx context.Context, id string) ([]*model.ProgressEvent, error) {
	return s.publisher.Timeline(ctx, id)
}

// History 状态变更历史
func (s *jobService) History(ctx context.Context, id string) ([]*model.StateHistoryModel, error) {
	if _, err := s.jobs.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.history.FindByJobID(ctx, id)
}

// BatchUpdateStatus 逐个修改状态,单个失败不影响其它任务
func (s *jobService) BatchUpdateStatus(ctx context.Context, req *BatchStatusRequest) (*BatchResult, error) {
	if _, err := statemachine.Parse(req.Status); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrValidation, err.Error())
	}
	result := s.batch(ctx, req.IDs, func(ctx context.Context, id string) error {
		_, err := s.updateStatus(ctx, id, req.Status, req.Reason)
		return err
	})
	s.record(ctx, ActionBatchUpdateStatus, "batch", map[string]interface{}{
		"status":    req.Status,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	return result, nil
}

// BatchDelete 逐个删除,单个失败不影响其它任务
func (s *jobService) BatchDelete(ctx context.Context, req *BatchDeleteRequest) (*BatchResult, error) {
	result := s.batch(ctx, req.IDs, s.deleteJob)
	s.record(ctx, ActionBatchDelete, "batch", map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	return result, nil
}

// batch 对去重后的 ID 并发执行单任务操作,结果按输入顺序汇总
func (s *jobService) batch(ctx context.Context, ids []string, op func(ctx context.Context, id string) error) *BatchResult {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	errs := make([]error, len(unique))
	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, id := range unique {
		if id == "" {
			errs[i] = fmt.Errorf("%w: id is required", model.ErrValidation)
			continue
		}
		g.Go(func() error {
			errs[i] = op(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{
		Succeeded: []string{},
		Failed:    []BatchFailure{},
	}
	for i, id := range unique {
		if errs[i] != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: id, Error: errs[i].Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// dispatch 入队,队列已满时任务保持 queued,由清扫器重新入队
func (s *jobService) dispatch(id string) {
	if s.enqueuer == nil {
		return
	}
	if !s.enqueuer.Enqueue(id) {
		s.logger.WithField("job_id", id).Info("Dispatch queue is full, job stays queued for the sweeper")
	}
}

func (s *jobService) notify(id string) {
	if s.notifier != nil {
		s.notifier.Notify(id)
	}
}

// record 记录审计日志,失败只记录警告
func (s *jobService) record(ctx context.Context, action, resourceID string, details interface{}) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.RecordAction(ctx, action, resourceTypeJob, resourceID, details); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"resource_id": resourceID,
		}).Warn("Failed to record audit log")
	}
}
