package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/service"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJobService_Create 测试创建任务
func TestJobService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &service.CreateJobRequest{})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.Create(ctx, &service.CreateJobRequest{
		GenerationConfig: model.GenerationConfig{Topic: "T"},
		Priority:         42,
	})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, total, err := f.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, total)

	job := f.create(t, "T")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, statemachine.StatusQueued, job.Status)
	assert.Equal(t, model.DefaultPriority, job.Priority)
	assert.Equal(t, []string{job.ID}, f.enqueuer.IDs())

	logs, err := f.audit.List(ctx, "job", job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, service.ActionCreate, logs[0].Action)
	assert.Equal(t, service.DefaultOperator, logs[0].Actor)
}

// TestJobService_CreateWithFullQueue 测试队列已满时任务保持排队
func TestJobService_CreateWithFullQueue(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.full = true

	job := f.create(t, "T")
	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusQueued, got.Status)
	assert.Empty(t, f.enqueuer.IDs())
}

// TestJobService_Get 测试任务详情
func TestJobService_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued := f.create(t, "Queued topic")
	detail, err := f.svc.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, "Queued topic", detail.DisplayTitle)
	assert.Empty(t, detail.Excerpt)
	assert.Equal(t, "Queued", detail.StatusMetadata.Label)
	assert.Empty(t, detail.ProgressHistory)

	done := f.generate(t, "Go")
	detail, err = f.svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "About Go", detail.DisplayTitle)
	assert.Equal(t, "Generated body.", detail.Excerpt)
	assert.NotEmpty(t, detail.ProgressHistory)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// TestJobService_List 测试列表过滤
func TestJobService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "Alpha channels")
	b := f.generate(t, "Beta 100% coverage")
	old := f.create(t, "Old topic")
	require.NoError(t, f.db.Model(&model.GenerationJob{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().AddDate(0, 0, -40)).Error)

	jobs, total, err := f.svc.List(ctx, &service.ListJobsRequest{Status: "all", Priority: "all", DateRange: "all"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, old.ID, jobs[2].ID)

	jobs, _, err = f.svc.List(ctx, &service.ListJobsRequest{Status: "generated"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, b.ID, jobs[0].ID)

	_, total, err = f.svc.List(ctx, &service.ListJobsRequest{DateRange: "month"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	jobs, _, err = f.svc.List(ctx, &service.ListJobsRequest{Search: "100%"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, b.ID, jobs[0].ID)

	jobs, _, err = f.svc.List(ctx, &service.ListJobsRequest{Search: "ALPHA", Priority: "5"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].ID)

	_, _, err = f.svc.List(ctx, &service.ListJobsRequest{Status: "draft"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, _, err = f.svc.List(ctx, &service.ListJobsRequest{Priority: "high"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, _, err = f.svc.List(ctx, &service.ListJobsRequest{DateRange: "year"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

// TestDateRangeStart 测试日期范围
func TestDateRangeStart(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	start, err := service.DateRangeStart("today", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *start)

	start, err = service.DateRangeStart("Week", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), *start)

	start, err = service.DateRangeStart("month", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -30), *start)

	start, err = service.DateRangeStart("", now)
	require.NoError(t, err)
	assert.Nil(t, start)
}

// TestBuildJobFilter_PageSize 测试分页上限
func TestBuildJobFilter_PageSize(t *testing.T) {
	filter, err := service.BuildJobFilter(&service.ListJobsRequest{PageSize: 1000}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.MaxPageSize, filter.PageSize)
	assert.Nil(t, filter.Status)
	assert.Nil(t, filter.Priority)
}

// TestJobService_UpdateStatus 测试单个状态修改
func TestJobService_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.generate(t, "Go")

	_, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "published"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "bogus"})
	assert.ErrorIs(t, err, model.ErrValidation)
	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusGenerated, got.Status)

	before := f.notifier.Count(job.ID)
	updated, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "in_review", Reason: "editor"})
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusInReview, updated.Status)
	assert.Greater(t, f.notifier.Count(job.ID), before)

	_, err = f.svc.UpdateStatus(ctx, "missing", &service.UpdateStatusRequest{Status: "approved"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// TestJobService_UpdateStatusToQueuedRetries 测试改为 queued 时按重试处理
func TestJobService_UpdateStatusToQueuedRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.generate(t, "Go")

	_, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "queued"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "rejected"})
	require.NoError(t, err)
	requeued, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "queued"})
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusQueued, requeued.Status)
	assert.Zero(t, requeued.ProgressPercentage)
	assert.Contains(t, f.enqueuer.IDs()[1:], job.ID)
}

// TestJobService_UpdateStatusPipelineOwned 测试不能手动进入或离开生成中
func TestJobService_UpdateStatusPipelineOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t, "Go")

	_, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "generating"})
	assert.ErrorIs(t, err, model.ErrPrecondition)

	result, err := f.svc.BatchUpdateStatus(ctx, &service.BatchStatusRequest{
		IDs:    []string{job.ID},
		Status: "generating",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 1)

	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusQueued, got.Status)

	require.NoError(t, f.ctrl.Run(ctx, job.ID))
	got, err = f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusGenerated, got.Status)
	assert.True(t, got.HasResult())
	assert.NotNil(t, got.GenerationCompletedAt)
}

// TestJobService_Retry 测试重试
func TestJobService_Retry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.generate(t, "Go")

	_, err := f.svc.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrPrecondition)

	_, err = f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "rejected"})
	require.NoError(t, err)
	retried, err := f.svc.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusQueued, retried.Status)

	require.NoError(t, f.ctrl.Run(ctx, job.ID))
	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusGenerated, got.Status)

	_, err = f.svc.Retry(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// TestJobService_Regenerate 测试重新生成
func TestJobService_Regenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.generate(t, "Go")

	copied, err := f.svc.Regenerate(ctx, src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, copied.ID)
	assert.Equal(t, statemachine.StatusQueued, copied.Status)
	require.NotNil(t, copied.SourceJobID)
	assert.Equal(t, src.ID, *copied.SourceJobID)
	assert.JSONEq(t, string(src.Config), string(copied.Config))
	assert.Contains(t, f.enqueuer.IDs(), copied.ID)

	after, err := f.jobs.FindByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.Status, after.Status)
	assert.Equal(t, string(src.Result), string(after.Result))
}

// TestJobService_DeleteAndHistory 测试删除与状态历史
func TestJobService_DeleteAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.generate(t, "Go")

	history, err := f.svc.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "generating", history[0].ToState)
	assert.Equal(t, "generated", history[1].ToState)

	require.NoError(t, f.svc.Delete(ctx, job.ID))
	_, err = f.svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.svc.History(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, job.ID), model.ErrNotFound)

	logs, err := f.audit.List(ctx, "job", job.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ActionDelete, logs[0].Action)
}

// TestJobService_TriggerPhase 测试手动触发增强阶段
func TestJobService_TriggerPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.TriggerPhase(ctx, "any", "content"), model.ErrValidation)

	queued := f.create(t, "Queued")
	assert.ErrorIs(t, f.svc.TriggerPhase(ctx, queued.ID, "enhancement"), model.ErrPrecondition)

	job := f.generate(t, "Go")
	require.NoError(t, f.svc.TriggerPhase(ctx, job.ID, "enhancement"))
	f.ctrl.Wait()

	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusGenerated, got.Status)
	result, err := got.GetResult()
	require.NoError(t, err)
	assert.Equal(t, "SEO: About Go", result.MetadataString("seoTitle"))
}

// TestJobService_Progress 测试进度上报与查询
func TestJobService_Progress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t, "Go")
	one, two := 1, 2

	_, err := f.svc.AppendProgress(ctx, job.ID, &service.AppendProgressRequest{StageNumber: &one, StageName: "Research", ProgressPercentage: 10})
	require.NoError(t, err)
	_, err = f.svc.AppendProgress(ctx, job.ID, &service.AppendProgressRequest{StageNumber: &two, StageName: "Draft", ProgressPercentage: 40})
	require.NoError(t, err)
	_, err = f.svc.AppendProgress(ctx, job.ID, &service.AppendProgressRequest{StageNumber: &one, StageName: "Research", DetailText: "again", ProgressPercentage: 15})
	require.NoError(t, err)
	ev, err := f.svc.AppendProgress(ctx, job.ID, &service.AppendProgressRequest{ProgressPercentage: 150})
	require.NoError(t, err)
	assert.Equal(t, "Progress update", ev.StageName)
	assert.Equal(t, 100, ev.ProgressPercentage)

	view, err := f.svc.Progress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Progress update", view.Stage)
	assert.Equal(t, 100, view.Percentage)

	timeline, err := f.svc.Timeline(ctx, job.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(timeline), 2)
	assert.Equal(t, "Research", timeline[0].StageName)
	assert.Equal(t, "again", timeline[0].DetailText)
	assert.Equal(t, "Draft", timeline[1].StageName)

	_, err = f.svc.AppendProgress(ctx, "missing", &service.AppendProgressRequest{StageName: "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// TestJobService_BatchDelete 测试批量删除部分成功
func TestJobService_BatchDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, topic := range []string{"a", "b", "c", "d"} {
		ids = append(ids, f.create(t, topic).ID)
	}
	request := append(append([]string{}, ids[:2]...), "missing")
	request = append(request, ids[2:]...)

	result, err := f.svc.BatchDelete(ctx, &service.BatchDeleteRequest{IDs: request})
	require.NoError(t, err)
	assert.Equal(t, ids, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "missing", result.Failed[0].ID)
	assert.Contains(t, result.Failed[0].Error, "not found")

	_, total, err := f.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}

// TestJobService_BatchUpdateStatus 测试批量修改状态
func TestJobService_BatchUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.generate(t, "a")
	b := f.generate(t, "b")
	queued := f.create(t, "c")

	result, err := f.svc.BatchUpdateStatus(ctx, &service.BatchStatusRequest{
		IDs:    []string{a.ID, queued.ID, b.ID, a.ID, ""},
		Status: "in_review",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, result.Succeeded)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, queued.ID, result.Failed[0].ID)
	assert.Equal(t, "", result.Failed[1].ID)

	for _, id := range []string{a.ID, b.ID} {
		got, err := f.jobs.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, statemachine.StatusInReview, got.Status)
	}
	got, err := f.jobs.FindByID(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusQueued, got.Status)

	_, err = f.svc.BatchUpdateStatus(ctx, &service.BatchStatusRequest{IDs: []string{a.ID}, Status: "bogus"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

// TestJobService_Lifecycle 测试从创建到发布的完整流程
func TestJobService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.generate(t, "T")
	require.NotNil(t, job.GenerationCompletedAt)

	for _, status := range []string{"in_review", "approved", "publishing", "published"} {
		updated, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: status})
		require.NoError(t, err, status)
		assert.Equal(t, statemachine.Status(status), updated.Status)
	}
	_, err := f.svc.UpdateStatus(ctx, job.ID, &service.UpdateStatusRequest{Status: "cancelled"})
	assert.ErrorIs(t, err, model.ErrValidation)

	// 已发布的任务可以删除
	require.NoError(t, f.svc.Delete(ctx, job.ID))
}
