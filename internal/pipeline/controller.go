package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mautops/genqueue/internal/metrics"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// ErrPhaseTimeout 外部调用超过阶段超时时间
var ErrPhaseTimeout = errors.New("phase timed out")

// Timeouts 各阶段外部调用的超时时间
type Timeouts struct {
	Content time.Duration
	Images  time.Duration
	Enhance time.Duration
}

// Options 控制器依赖
type Options struct {
	Content   ContentGenerator
	Images    ImageGenerator
	Enhancer  ContentEnhancer
	Artifacts ArtifactStore
	Locks     *LockRegistry
	Site      SiteContext
	Timeouts  Timeouts
	Logger    *logrus.Logger
}

// Controller 阶段流水线控制器
// 负责阶段排序、同一任务的互斥以及状态记录,生成逻辑由外部服务完成
type Controller struct {
	jobs      repository.JobRepository
	publisher *progress.Publisher
	content   ContentGenerator
	images    ImageGenerator
	enhancer  ContentEnhancer
	artifacts ArtifactStore
	locks     *LockRegistry
	site      SiteContext
	timeouts  atomic.Value // Timeouts
	logger    *logrus.Logger
	tracer    trace.Tracer
	wg        sync.WaitGroup
}

// NewController 创建流水线控制器
func NewController(jobs repository.JobRepository, publisher *progress.Publisher, opts Options) *Controller {
	if opts.Locks == nil {
		opts.Locks = NewLockRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	c := &Controller{
		jobs:      jobs,
		publisher: publisher,
		content:   opts.Content,
		images:    opts.Images,
		enhancer:  opts.Enhancer,
		artifacts: opts.Artifacts,
		locks:     opts.Locks,
		site:      opts.Site,
		logger:    opts.Logger,
		tracer:    otel.Tracer("github.com/mautops/genqueue/internal/pipeline"),
	}
	c.SetTimeouts(opts.Timeouts)
	return c
}

// SetTimeouts 更新阶段超时,用于配置热更新
func (c *Controller) SetTimeouts(t Timeouts) {
	if t.Content <= 0 {
		t.Content = 5 * time.Minute
	}
	if t.Images <= 0 {
		t.Images = 3 * time.Minute
	}
	if t.Enhance <= 0 {
		t.Enhance = 3 * time.Minute
	}
	c.timeouts.Store(t)
}

// Timeouts 当前阶段超时
func (c *Controller) Timeouts() Timeouts {
	return c.timeouts.Load().(Timeouts)
}

// Locks 返回任务锁登记表
func (c *Controller) Locks() *LockRegistry {
	return c.locks
}

// Wait 等待所有后台阶段执行结束
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Run 执行排队任务的内容阶段,并按特性开关串联后续阶段
// 外部服务失败记录在任务上,不作为返回值
func (c *Controller) Run(ctx context.Context, id string) error {
	if !c.locks.TryAcquire(id) {
		return conflictError(id)
	}
	defer c.locks.Release(id)

	job, err := c.jobs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != statemachine.StatusQueued {
		return fmt.Errorf("%w: job %s is %s, not queued", model.ErrPrecondition, id, job.Status)
	}

	// 1. queued -> generating
	now := time.Now()
	job, err = c.jobs.Transition(ctx, id, &repository.TransitionRequest{
		From: statemachine.StatusQueued,
		To:   statemachine.StatusGenerating,
		Fields: map[string]interface{}{
			"generation_started_at":   now,
			"generation_completed_at": nil,
			"progress_percentage":     0,
			"current_stage":           PhaseContent.Label(),
		},
		Reason: "content phase started",
	})
	if err != nil {
		return err
	}

	// 2. 内容阶段
	job, err = c.runContent(ctx, job)
	if err != nil || job == nil {
		return err
	}

	// 3. 串联阶段
	c.runChained(ctx, job)
	return nil
}

// runChained 按特性开关执行图片、增强和草稿创建
func (c *Controller) runChained(ctx context.Context, job *model.GenerationJob) {
	cfg, err := job.GetConfig()
	if err != nil {
		return
	}
	log := c.jobLogger(job.ID, "")

	steps := []struct {
		enabled bool
		phase   Phase
	}{
		{cfg.Features.GenerateImages && c.images != nil, PhaseImages},
		{cfg.Features.EnhanceContent && c.enhancer != nil, PhaseEnhancement},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		current, err := c.jobs.FindByID(ctx, job.ID)
		if err != nil {
			log.WithError(err).Info("Job gone before chained phase, stopping")
			return
		}
		if err := checkPhasePrecondition(current); err != nil {
			log.WithError(err).Info("Skipping chained phase")
			return
		}
		if err := c.runPhase(ctx, current, step.phase); err != nil {
			log.WithError(err).WithField("phase", step.phase).Warn("Chained phase failed")
		}
	}

	if cfg.Features.AutoCreateDraft && c.artifacts != nil {
		if _, err := c.linkArtifact(ctx, job.ID); err != nil {
			log.WithError(err).Warn("Failed to create draft for job")
		}
	}
}

// RunPhase 同步执行图片或增强阶段
func (c *Controller) RunPhase(ctx context.Context, id string, phase Phase) error {
	if !c.locks.TryAcquire(id) {
		return conflictError(id)
	}
	defer c.locks.Release(id)

	job, err := c.loadForPhase(ctx, id, phase)
	if err != nil {
		return err
	}
	return c.runPhase(ctx, job, phase)
}

// TriggerPhase 校验前置条件后在后台执行阶段
// 锁在返回前获取,同一任务的并发触发只有一个成功
func (c *Controller) TriggerPhase(ctx context.Context, id string, phase Phase) error {
	if !c.locks.TryAcquire(id) {
		return conflictError(id)
	}

	job, err := c.loadForPhase(ctx, id, phase)
	if err != nil {
		c.locks.Release(id)
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.locks.Release(id)
		defer func() {
			if r := recover(); r != nil {
				c.jobLogger(id, phase).WithField("panic", r).Error("Phase panicked")
			}
		}()
		if err := c.runPhase(context.Background(), job, phase); err != nil {
			c.jobLogger(id, phase).WithError(err).Warn("Triggered phase failed")
		}
	}()
	return nil
}

// loadForPhase 读取任务并校验阶段前置条件
func (c *Controller) loadForPhase(ctx context.Context, id string, phase Phase) (*model.GenerationJob, error) {
	if phase != PhaseImages && phase != PhaseEnhancement {
		return nil, fmt.Errorf("%w: phase %q cannot be triggered", model.ErrValidation, phase)
	}
	if (phase == PhaseImages && c.images == nil) || (phase == PhaseEnhancement && c.enhancer == nil) {
		return nil, fmt.Errorf("%w: %s phase is not configured", model.ErrPrecondition, phase)
	}
	job, err := c.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkPhasePrecondition(job); err != nil {
		return nil, err
	}
	return job, nil
}

// checkPhasePrecondition 图片和增强阶段要求内容已生成且任务处于可审阅状态
func checkPhasePrecondition(job *model.GenerationJob) error {
	if !job.HasResult() {
		return fmt.Errorf("%w: job %s has no generated content yet", model.ErrPrecondition, job.ID)
	}
	switch job.Status {
	case statemachine.StatusGenerated, statemachine.StatusInReview, statemachine.StatusApproved,
		statemachine.StatusRejected, statemachine.StatusScheduled:
		return nil
	}
	return fmt.Errorf("%w: job %s is %s", model.ErrPrecondition, job.ID, job.Status)
}

// runPhase 执行图片或增强阶段,调用方持有任务锁
func (c *Controller) runPhase(ctx context.Context, job *model.GenerationJob, phase Phase) error {
	switch phase {
	case PhaseImages:
		return c.runImages(ctx, job)
	case PhaseEnhancement:
		return c.runEnhance(ctx, job)
	}
	return fmt.Errorf("%w: unknown phase %q", model.ErrValidation, phase)
}

// runContent 执行内容阶段,成功返回更新后的任务,失败或结果被丢弃时返回 nil
func (c *Controller) runContent(ctx context.Context, job *model.GenerationJob) (*model.GenerationJob, error) {
	ctx, span := c.startSpan(ctx, job.ID, PhaseContent)
	defer span.End()
	log := c.jobLogger(job.ID, PhaseContent)
	start := time.Now()

	rep := newAttemptReporter(ctx, c.publisher, job.ID, PhaseContent, log)
	rep.begin()

	cfg, err := job.GetConfig()
	var result *model.GenerationResult
	if err == nil {
		if job.FailedPhase == string(PhasePublishing) && job.HasResult() {
			// 发布失败后重试,恢复已有内容而不再调用生成服务
			rep.Report("Restoring content", "Reusing previously generated content", 50)
			result, err = job.GetResult()
		} else if c.content == nil {
			err = errors.New("content generator is not configured")
		} else {
			result, err = callWithTimeout(ctx, c.Timeouts().Content, func(ctx context.Context) (*model.GenerationResult, error) {
				return c.content.Generate(ctx, cfg, rep)
			})
		}
		if err == nil && result == nil {
			err = errors.New("content generator returned no result")
		}
	}

	if err != nil {
		rep.fail(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.recordContentFailure(ctx, job.ID, err)
		metrics.RecordPhaseAttempt(string(PhaseContent), outcomeOf(err), time.Since(start).Seconds())
		return nil, nil
	}

	// 标题和摘要按回退链补全
	now := time.Now()
	next := result.Clone()
	next.Title = ResolveTitle(next, cfg)
	next.Excerpt = ResolveExcerpt(next)
	next.Metadata["contentGeneratedAt"] = now.UTC().Format(time.RFC3339)
	data, err := model.ToJSON(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	rep.complete("Content ready")
	updated, err := c.jobs.Transition(ctx, job.ID, &repository.TransitionRequest{
		From: statemachine.StatusGenerating,
		To:   statemachine.StatusGenerated,
		Fields: map[string]interface{}{
			"result":                  data,
			"title":                   next.Title,
			"generation_completed_at": now,
			"progress_percentage":     100,
			"current_stage":           "Completed",
			"error":                   nil,
			"failed_phase":            "",
		},
		Reason: "content phase succeeded",
	})
	if err != nil {
		if isDiscard(err) {
			log.WithError(err).Info("Discarding content result")
			metrics.RecordPhaseAttempt(string(PhaseContent), "discarded", time.Since(start).Seconds())
			return nil, nil
		}
		return nil, err
	}

	metrics.RecordPhaseAttempt(string(PhaseContent), "succeeded", time.Since(start).Seconds())
	log.WithField("duration", time.Since(start).String()).Info("Content phase succeeded")
	return updated, nil
}

// recordContentFailure 内容阶段失败,generating -> failed,保留已有结果
func (c *Controller) recordContentFailure(ctx context.Context, id string, cause error) {
	log := c.jobLogger(id, PhaseContent)
	jerr := newJobError(PhaseContent, cause)
	data, err := model.ToJSON(jerr)
	if err != nil {
		log.WithError(err).Error("Failed to marshal job error")
		return
	}
	_, err = c.jobs.Transition(ctx, id, &repository.TransitionRequest{
		From: statemachine.StatusGenerating,
		To:   statemachine.StatusFailed,
		Fields: map[string]interface{}{
			"error":         data,
			"failed_phase":  string(PhaseContent),
			"current_stage": "Failed",
		},
		Reason: jerr.Message,
	})
	if err != nil {
		log.WithError(err).Info("Discarding content failure")
		return
	}
	log.WithError(cause).Warn("Content phase failed")
}

// runImages 图片阶段,结果整体覆盖之前的图片输出,状态不变
func (c *Controller) runImages(ctx context.Context, job *model.GenerationJob) error {
	ctx, span := c.startSpan(ctx, job.ID, PhaseImages)
	defer span.End()
	log := c.jobLogger(job.ID, PhaseImages)
	start := time.Now()

	cfg, result, err := decodeJob(job)
	if err != nil {
		return err
	}

	rep := newAttemptReporter(ctx, c.publisher, job.ID, PhaseImages, log)
	rep.begin()

	images, err := callWithTimeout(ctx, c.Timeouts().Images, func(ctx context.Context) (*model.ImageSet, error) {
		return c.images.Generate(ctx, &ImageRequest{JobID: job.ID, Config: cfg, Result: result}, rep)
	})
	if err == nil && images == nil {
		images = &model.ImageSet{}
	}
	if err != nil {
		rep.fail(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.recordPhaseFailure(ctx, job, PhaseImages, err, start)
	}

	next := result.Clone()
	next.Images = images
	next.Body = StripInsertedImages(next.Body)
	if cfg.Features.AutoInsertImages {
		next.Body = InsertImages(next.Body, images)
	}
	next.Metadata["imagesInserted"] = cfg.Features.AutoInsertImages
	next.Metadata["imagesGeneratedAt"] = time.Now().UTC().Format(time.RFC3339)

	rep.complete(fmt.Sprintf("%d content images", len(images.Content)))
	return c.applyPhaseResult(ctx, job, PhaseImages, next, start)
}

// runEnhance 增强阶段,改写正文并写入 SEO 字段和链接报告,状态不变
func (c *Controller) runEnhance(ctx context.Context, job *model.GenerationJob) error {
	ctx, span := c.startSpan(ctx, job.ID, PhaseEnhancement)
	defer span.End()
	log := c.jobLogger(job.ID, PhaseEnhancement)
	start := time.Now()

	cfg, result, err := decodeJob(job)
	if err != nil {
		return err
	}

	rep := newAttemptReporter(ctx, c.publisher, job.ID, PhaseEnhancement, log)
	rep.begin()

	req := &EnhanceRequest{
		JobID:    job.ID,
		Title:    result.Title,
		Body:     result.Body,
		Keywords: cfg.Keywords,
		Site:     c.site,
	}
	out, err := callWithTimeout(ctx, c.Timeouts().Enhance, func(ctx context.Context) (*EnhanceResult, error) {
		return c.enhancer.Enhance(ctx, req, rep)
	})
	if err == nil && out == nil {
		err = errors.New("enhancer returned no result")
	}
	if err != nil {
		rep.fail(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.recordPhaseFailure(ctx, job, PhaseEnhancement, err, start)
	}

	next := result.Clone()
	if strings.TrimSpace(out.Body) != "" {
		next.Body = out.Body
	}
	if out.SEOTitle != "" {
		next.Metadata["seoTitle"] = out.SEOTitle
	}
	if out.MetaDescription != "" {
		next.Metadata["metaDescription"] = out.MetaDescription
	}
	if out.StructuredData != nil {
		next.Metadata["structuredData"] = out.StructuredData
	}

	checks := out.Links
	if len(checks) == 0 {
		for _, href := range ExtractLinks(next.Body) {
			checks = append(checks, LinkCheck{URL: href})
		}
	}
	next.Metadata["linkReport"] = BuildLinkReport(checks, c.site)
	next.Metadata["enhancedAt"] = time.Now().UTC().Format(time.RFC3339)
	next.Excerpt = ResolveExcerpt(next)

	rep.complete("Content enhanced")
	return c.applyPhaseResult(ctx, job, PhaseEnhancement, next, start)
}

// applyPhaseResult 在状态未变化时写入阶段结果
func (c *Controller) applyPhaseResult(ctx context.Context, job *model.GenerationJob, phase Phase, next *model.GenerationResult, start time.Time) error {
	data, err := model.ToJSON(next)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fields := map[string]interface{}{
		"result": data,
		"title":  next.Title,
	}
	if job.FailedPhase == string(phase) {
		fields["error"] = nil
		fields["failed_phase"] = ""
	}

	log := c.jobLogger(job.ID, phase)
	if err := c.jobs.UpdateFields(ctx, job.ID, job.Status, fields); err != nil {
		if isDiscard(err) {
			log.WithError(err).Info("Discarding phase result")
			metrics.RecordPhaseAttempt(string(phase), "discarded", time.Since(start).Seconds())
			return nil
		}
		return err
	}
	metrics.RecordPhaseAttempt(string(phase), "succeeded", time.Since(start).Seconds())
	log.WithField("duration", time.Since(start).String()).Info("Phase succeeded")
	return nil
}

// recordPhaseFailure 图片或增强阶段失败,只记录错误,不改变状态和已有结果
func (c *Controller) recordPhaseFailure(ctx context.Context, job *model.GenerationJob, phase Phase, cause error, start time.Time) error {
	metrics.RecordPhaseAttempt(string(phase), outcomeOf(cause), time.Since(start).Seconds())
	log := c.jobLogger(job.ID, phase)

	data, err := model.ToJSON(newJobError(phase, cause))
	if err != nil {
		return fmt.Errorf("failed to marshal job error: %w", err)
	}
	err = c.jobs.UpdateFields(ctx, job.ID, job.Status, map[string]interface{}{
		"error":        data,
		"failed_phase": string(phase),
	})
	if err != nil {
		if isDiscard(err) {
			log.WithError(err).Info("Discarding phase failure")
			return nil
		}
		return err
	}
	log.WithError(cause).Warn("Phase failed")
	return nil
}

// Retry 从 failed 或 rejected 重新排队,同一任务 ID
// 其它状态返回前置条件错误且不做任何修改
func (c *Controller) Retry(ctx context.Context, id string, operator string) (*model.GenerationJob, error) {
	if !c.locks.TryAcquire(id) {
		return nil, conflictError(id)
	}
	defer c.locks.Release(id)

	job, err := c.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsRetryable() {
		return nil, fmt.Errorf("%w: job %s is %s, only failed or rejected jobs can be retried", model.ErrPrecondition, id, job.Status)
	}

	fields := map[string]interface{}{
		"error":               nil,
		"progress_percentage": 0,
		"current_stage":       "Queued for retry",
	}
	if job.Status == statemachine.StatusRejected {
		fields["failed_phase"] = ""
	}
	return c.jobs.Transition(ctx, id, &repository.TransitionRequest{
		From:     job.Status,
		To:       statemachine.StatusQueued,
		Fields:   fields,
		Reason:   "retry",
		Operator: operator,
	})
}

// Regenerate 以相同参数创建新任务,原任务不做任何修改
func (c *Controller) Regenerate(ctx context.Context, id string) (*model.GenerationJob, error) {
	src, err := c.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := src.GetConfig()
	if err != nil {
		return nil, err
	}
	job, err := model.NewGenerationJob(cfg, src.Priority)
	if err != nil {
		return nil, err
	}
	job.Config = append(datatypes.JSON(nil), src.Config...)
	sourceID := src.ID
	job.SourceJobID = &sourceID
	if err := c.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SetStatus 手动修改状态,活动阶段执行期间返回冲突
// publishing -> failed 记录发布失败,重试时恢复已有内容
func (c *Controller) SetStatus(ctx context.Context, id string, to statemachine.Status, reason, operator string) (*model.GenerationJob, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, to)
	}
	if !c.locks.TryAcquire(id) {
		return nil, conflictError(id)
	}
	defer c.locks.Release(id)

	job, err := c.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statemachine.CanTransition(job.Status, to) {
		return nil, fmt.Errorf("%w: illegal transition from %s to %s", model.ErrValidation, job.Status, to)
	}
	if pipelineOwned(job.Status, to) {
		return nil, fmt.Errorf("%w: transition from %s to %s is driven by the content phase", model.ErrPrecondition, job.Status, to)
	}

	fields := map[string]interface{}{}
	if job.Status == statemachine.StatusPublishing && to == statemachine.StatusFailed {
		message := reason
		if message == "" {
			message = "publishing failed"
		}
		data, err := model.ToJSON(&model.JobError{
			Phase:      string(PhasePublishing),
			Kind:       model.ErrorKindExternal,
			Message:    message,
			OccurredAt: time.Now(),
		})
		if err != nil {
			return nil, err
		}
		fields["error"] = data
		fields["failed_phase"] = string(PhasePublishing)
	}
	return c.jobs.Transition(ctx, id, &repository.TransitionRequest{
		From:     job.Status,
		To:       to,
		Fields:   fields,
		Reason:   reason,
		Operator: operator,
	})
}

// pipelineOwned 内容阶段独占的转换,不能手动修改
func pipelineOwned(from, to statemachine.Status) bool {
	switch {
	case to == statemachine.StatusGenerating, to == statemachine.StatusGenerated:
		return true
	case from == statemachine.StatusGenerating && to == statemachine.StatusFailed:
		return true
	}
	return false
}

// LinkArtifact 将结果复制到草稿存储并记录引用
func (c *Controller) LinkArtifact(ctx context.Context, id string) (*model.GenerationJob, error) {
	if !c.locks.TryAcquire(id) {
		return nil, conflictError(id)
	}
	defer c.locks.Release(id)
	return c.linkArtifact(ctx, id)
}

func (c *Controller) linkArtifact(ctx context.Context, id string) (*model.GenerationJob, error) {
	if c.artifacts == nil {
		return nil, fmt.Errorf("%w: artifact store is not configured", model.ErrPrecondition)
	}
	job, err := c.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.HasResult() {
		return nil, fmt.Errorf("%w: job %s has no generated content yet", model.ErrPrecondition, id)
	}
	if job.LinkedArtifactID != nil {
		return nil, fmt.Errorf("%w: job %s already has a linked artifact", model.ErrPrecondition, id)
	}
	result, err := job.GetResult()
	if err != nil {
		return nil, err
	}

	artifactID, err := c.artifacts.CreateDraft(ctx, job, result)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	if err := c.jobs.LinkArtifact(ctx, id, artifactID); err != nil {
		return nil, err
	}
	c.jobLogger(id, "").WithField("artifact_id", artifactID).Info("Linked artifact to job")
	return c.jobs.FindByID(ctx, id)
}

func (c *Controller) startSpan(ctx context.Context, id string, phase Phase) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "phase."+string(phase), trace.WithAttributes(
		attribute.String("job.id", id),
		attribute.String("job.phase", string(phase)),
	))
}

func (c *Controller) jobLogger(id string, phase Phase) *logrus.Entry {
	fields := logrus.Fields{"job_id": id}
	if phase != "" {
		fields["phase"] = phase
	}
	return c.logger.WithFields(fields)
}

// callWithTimeout 在超时时间内调用外部服务
// 超时后不再等待调用返回,panic 转换为错误
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("external call panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			o.err = fmt.Errorf("%w after %s: %v", ErrPhaseTimeout, d, o.err)
		}
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrPhaseTimeout, d)
		}
		return zero, ctx.Err()
	}
}

func decodeJob(job *model.GenerationJob) (*model.GenerationConfig, *model.GenerationResult, error) {
	cfg, err := job.GetConfig()
	if err != nil {
		return nil, nil, err
	}
	result, err := job.GetResult()
	if err != nil {
		return nil, nil, err
	}
	if result == nil {
		return nil, nil, fmt.Errorf("%w: job %s has no generated content yet", model.ErrPrecondition, job.ID)
	}
	return cfg, result, nil
}

func newJobError(phase Phase, cause error) *model.JobError {
	kind := model.ErrorKindExternal
	if errors.Is(cause, ErrPhaseTimeout) {
		kind = model.ErrorKindTimeout
	}
	return &model.JobError{
		Phase:      string(phase),
		Kind:       kind,
		Message:    cause.Error(),
		OccurredAt: time.Now(),
	}
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrPhaseTimeout) {
		return "timeout"
	}
	return "failed"
}

// isDiscard 任务已删除或状态已变化,阶段结果应丢弃
func isDiscard(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict)
}

func conflictError(id string) error {
	return fmt.Errorf("%w: job %s has an active phase attempt", model.ErrConflict, id)
}
