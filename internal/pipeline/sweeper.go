package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/sirupsen/logrus"
)

// Enqueuer 任务入队
type Enqueuer interface {
	Enqueue(id string) bool
}

// SweepResult 单次清扫结果
type SweepResult struct {
	Failed   int
	Requeued int
}

// Sweeper 清扫器
// 将长时间停留在 generating 的任务标记为超时失败,并重新入队 queued 任务
type Sweeper struct {
	jobs       repository.JobRepository
	locks      *LockRegistry
	enqueuer   Enqueuer
	staleAfter time.Duration
	interval   time.Duration
	batch      int
	logger     *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
	started    bool
	stopped    bool
}

// NewSweeper 创建清扫器
func NewSweeper(jobs repository.JobRepository, locks *LockRegistry, enqueuer Enqueuer, staleAfter, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		jobs:       jobs,
		locks:      locks,
		enqueuer:   enqueuer,
		staleAfter: staleAfter,
		interval:   interval,
		batch:      100,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start 启动清扫器,先恢复重启前中断的任务
// 重复调用或 Stop 之后调用不做任何事
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if res, err := s.Recover(s.ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to recover interrupted jobs")
	} else if res.Failed > 0 || res.Requeued > 0 {
		s.logger.WithFields(logrus.Fields{"failed": res.Failed, "requeued": res.Requeued}).Info("Recovered interrupted jobs")
	}
	go s.loop()
}

// Stop 停止清扫器,未启动时直接返回
func (s *Sweeper) Stop() {
	s.mu.Lock()
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	}
}

// Recover 启动时执行,所有未被持有的 generating 任务都视为中断
func (s *Sweeper) Recover(ctx context.Context) (*SweepResult, error) {
	return s.sweep(ctx, time.Now())
}

// SweepOnce 执行一次清扫
func (s *Sweeper) SweepOnce(ctx context.Context) (*SweepResult, error) {
	return s.sweep(ctx, time.Now().Add(-s.staleAfter))
}

func (s *Sweeper) sweep(ctx context.Context, staleBefore time.Time) (*SweepResult, error) {
	res := &SweepResult{}

	// 1. 超时的 generating 任务
	stale, err := s.jobs.FindByStatus(ctx, statemachine.StatusGenerating, staleBefore, s.batch)
	if err != nil {
		return res, err
	}
	for _, job := range stale {
		if s.locks.IsHeld(job.ID) {
			continue
		}
		if err := s.failStale(ctx, job); err != nil {
			if errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrNotFound) {
				continue
			}
			return res, err
		}
		res.Failed++
	}

	// 2. 不在调度队列中的 queued 任务
	if s.enqueuer != nil {
		queued, err := s.jobs.FindByStatus(ctx, statemachine.StatusQueued, time.Now(), s.batch)
		if err != nil {
			return res, err
		}
		for _, job := range queued {
			if s.locks.IsHeld(job.ID) {
				continue
			}
			if s.enqueuer.Enqueue(job.ID) {
				res.Requeued++
			}
		}
	}
	return res, nil
}

func (s *Sweeper) failStale(ctx context.Context, job *model.GenerationJob) error {
	since := job.UpdatedAt
	if job.GenerationStartedAt != nil {
		since = *job.GenerationStartedAt
	}
	jerr := &model.JobError{
		Phase:      string(PhaseContent),
		Kind:       model.ErrorKindTimeout,
		Message:    fmt.Sprintf("generation did not complete, started %s ago", time.Since(since).Round(time.Second)),
		OccurredAt: time.Now(),
	}
	data, err := model.ToJSON(jerr)
	if err != nil {
		return err
	}
	_, err = s.jobs.Transition(ctx, job.ID, &repository.TransitionRequest{
		From: statemachine.StatusGenerating,
		To:   statemachine.StatusFailed,
		Fields: map[string]interface{}{
			"error":         data,
			"failed_phase":  string(PhaseContent),
			"current_stage": "Failed",
		},
		Reason: "stale generation",
	})
	if err == nil {
		s.logger.WithField("job_id", job.ID).Warn("Marked stale job as failed")
	}
	return err
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(s.ctx); err != nil {
				s.logger.WithError(err).Warn("Sweep failed")
			}
		}
	}
}
