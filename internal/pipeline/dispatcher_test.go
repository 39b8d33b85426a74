package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/pipeline"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner 记录执行的任务
type recordingRunner struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
}

func (r *recordingRunner) Run(ctx context.Context, id string) error {
	if r.fail[id] {
		panic("runner exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// TestDispatcher_RunsEnqueuedJobs 测试入队任务被执行,panic 不影响其它任务
func TestDispatcher_RunsEnqueuedJobs(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"bad": true}}
	d := pipeline.NewDispatcher(runner, 2, 10, quietLogger())

	assert.True(t, d.Enqueue("bad"))
	assert.True(t, d.Enqueue("a"))
	assert.True(t, d.Enqueue("b"))
	assert.True(t, d.IsPending("a"))
	d.Start()

	assert.Eventually(t, func() bool { return len(runner.seen()) == 2 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b"}, runner.seen())
	assert.False(t, d.IsPending("a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

// TestDispatcher_QueueFull 测试队列满时入队失败,重复入队视为成功
func TestDispatcher_QueueFull(t *testing.T) {
	d := pipeline.NewDispatcher(&recordingRunner{}, 1, 1, quietLogger())

	assert.True(t, d.Enqueue("a"))
	assert.True(t, d.Enqueue("a"))
	assert.False(t, d.Enqueue("b"))
	assert.Equal(t, 1, d.Len())
}

// TestDispatcher_EndToEnd 测试调度器驱动控制器
func TestDispatcher_EndToEnd(t *testing.T) {
	db := setupTestDB(t)
	ctrl, jobs := newController(db, pipeline.Options{Content: &fakeContent{}})
	d := pipeline.NewDispatcher(ctrl, 2, 10, quietLogger())
	d.Start()
	defer func() { _ = d.Stop(context.Background()) }()

	job := createJob(t, db, statemachine.StatusQueued, nil, nil)
	require.True(t, d.Enqueue(job.ID))

	assert.Eventually(t, func() bool {
		got, err := jobs.FindByID(context.Background(), job.ID)
		return err == nil && got.Status == statemachine.StatusGenerated
	}, 2*time.Second, 20*time.Millisecond)
}

// recordingEnqueuer 记录入队的任务
type recordingEnqueuer struct {
	ids []string
}

func (e *recordingEnqueuer) Enqueue(id string) bool {
	e.ids = append(e.ids, id)
	return true
}

// TestSweeper_FailsStaleAndRequeues 测试清扫超时任务并重新入队
func TestSweeper_FailsStaleAndRequeues(t *testing.T) {
	db := setupTestDB(t)
	jobs := repository.NewJobRepository(db)
	locks := pipeline.NewLockRegistry()
	enqueuer := &recordingEnqueuer{}
	sweeper := pipeline.NewSweeper(jobs, locks, enqueuer, 15*time.Minute, time.Minute, quietLogger())
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	stale := createJob(t, db, statemachine.StatusGenerating, nil, nil)
	held := createJob(t, db, statemachine.StatusGenerating, nil, nil)
	fresh := createJob(t, db, statemachine.StatusGenerating, nil, nil)
	queued := createJob(t, db, statemachine.StatusQueued, nil, nil)
	for _, id := range []string{stale.ID, held.ID} {
		require.NoError(t, db.Model(&model.GenerationJob{}).Where("id = ?", id).UpdateColumn("updated_at", past).Error)
	}
	require.True(t, locks.TryAcquire(held.ID))

	res, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, []string{queued.ID}, enqueuer.ids)

	got, err := jobs.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusFailed, got.Status)
	jerr, err := got.GetError()
	require.NoError(t, err)
	assert.Equal(t, model.ErrorKindTimeout, jerr.Kind)

	for _, id := range []string{held.ID, fresh.ID} {
		got, err := jobs.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, statemachine.StatusGenerating, got.Status)
	}

	// 启动恢复不看时间,只跳过被持有的任务
	res, err = sweeper.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	got, err = jobs.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusFailed, got.Status)
}

// TestSweeper_StopWithoutStart 测试未启动时停止立即返回
func TestSweeper_StopWithoutStart(t *testing.T) {
	db := setupTestDB(t)
	sweeper := pipeline.NewSweeper(repository.NewJobRepository(db), pipeline.NewLockRegistry(), &recordingEnqueuer{}, time.Minute, time.Minute, quietLogger())

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		sweeper.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a sweeper that was never started")
	}

	// 停止后启动不再运行
	sweeper.Start()
	sweeper.Stop()
}

// TestSweeper_StartStop 测试启动后停止
func TestSweeper_StartStop(t *testing.T) {
	db := setupTestDB(t)
	sweeper := pipeline.NewSweeper(repository.NewJobRepository(db), pipeline.NewLockRegistry(), &recordingEnqueuer{}, time.Minute, 10*time.Millisecond, quietLogger())
	sweeper.Start()
	sweeper.Start()

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
