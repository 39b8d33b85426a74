package live

import (
	"context"
	"errors"
	"time"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/sirupsen/logrus"
)

// Snapshot 推送给订阅方的任务状态
type Snapshot struct {
	JobID     string                `json:"job_id"`
	Status    statemachine.Status   `json:"status,omitempty"`
	Metadata  statemachine.Metadata `json:"metadata"`
	Progress  *progress.View        `json:"progress,omitempty"`
	Error     *model.JobError       `json:"error,omitempty"`
	Deleted   bool                  `json:"deleted,omitempty"`
	Final     bool                  `json:"final"` // 推送后通道关闭
	UpdatedAt time.Time             `json:"updated_at"`
}

// fingerprint 判断快照是否变化
func (s *Snapshot) fingerprint() string {
	fp := string(s.Status) + "|" + s.UpdatedAt.Format(time.RFC3339Nano)
	if s.Progress != nil {
		fp += "|" + s.Progress.Stage + "|" + s.Progress.Detail + "|" + s.Progress.UpdatedAt.Format(time.RFC3339Nano)
	}
	if s.Error != nil {
		fp += "|" + s.Error.Message
	}
	return fp
}

// Source 读取任务快照
type Source interface {
	Snapshot(ctx context.Context, jobID string) (*Snapshot, error)
}

// StoreSource 从数据库读取快照
type StoreSource struct {
	jobs      repository.JobRepository
	publisher *progress.Publisher
}

// NewStoreSource 创建数据库快照源
func NewStoreSource(jobs repository.JobRepository, publisher *progress.Publisher) *StoreSource {
	return &StoreSource{jobs: jobs, publisher: publisher}
}

// Snapshot 实现 Source
func (s *StoreSource) Snapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view, err := s.publisher.CurrentView(ctx, jobID)
	if err != nil {
		return nil, err
	}
	jerr, _ := job.GetError()
	return &Snapshot{
		JobID:     job.ID,
		Status:    job.Status,
		Metadata:  statemachine.MetadataFor(string(job.Status)),
		Progress:  view,
		Error:     jerr,
		UpdatedAt: job.UpdatedAt,
	}, nil
}

// Sink 快照的输出端
type Sink interface {
	Send(snap *Snapshot) error
	Heartbeat() error
}

// Options 实时通道参数
type Options struct {
	PollInterval      time.Duration
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration // 0 表示不发送心跳
}

// Stream 单个任务的实时状态通道
// 通知到达或轮询间隔到期时重新读取任务,变化时推送;
// 任务到达可查看的终态、被删除或空闲超时后结束
type Stream struct {
	source Source
	broker *Broker
	opts   Options
	logger *logrus.Logger
}

// NewStream 创建实时通道
func NewStream(source Source, broker *Broker, opts Options, logger *logrus.Logger) *Stream {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Stream{source: source, broker: broker, opts: opts, logger: logger}
}

// Source 返回快照源
func (s *Stream) Source() Source {
	return s.source
}

// Run 推送任务状态直到通道结束
// 第一次读取失败时直接返回错误,之后的读取错误只记录并继续轮询
func (s *Stream) Run(ctx context.Context, jobID string, sink Sink) error {
	notify, cancel := s.broker.Subscribe(jobID)
	defer cancel()

	// 1. 初始快照
	snap, err := s.source.Snapshot(ctx, jobID)
	if err != nil {
		return err
	}
	snap.Final = snap.Status.IsTerminalForViewing()
	if err := sink.Send(snap); err != nil {
		return err
	}
	if snap.Final {
		return nil
	}
	last := snap.fingerprint()

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	idle := time.NewTimer(s.opts.IdleTimeout)
	defer idle.Stop()

	var heartbeat <-chan time.Time
	if s.opts.HeartbeatInterval > 0 {
		hb := time.NewTicker(s.opts.HeartbeatInterval)
		defer hb.Stop()
		heartbeat = hb.C
	}

	log := s.logger.WithField("job_id", jobID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			log.Debug("Live stream idle timeout")
			return nil
		case <-heartbeat:
			if err := sink.Heartbeat(); err != nil {
				return err
			}
			continue
		case <-notify:
		case <-poll.C:
		}

		// 2. 重新读取
		snap, err := s.source.Snapshot(ctx, jobID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return sink.Send(&Snapshot{
					JobID:     jobID,
					Metadata:  statemachine.MetadataFor(""),
					Deleted:   true,
					Final:     true,
					UpdatedAt: time.Now(),
				})
			}
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Live stream read failed, will retry")
			continue
		}

		// 3. 有变化时推送
		fp := snap.fingerprint()
		if fp == last {
			continue
		}
		last = fp
		snap.Final = snap.Status.IsTerminalForViewing()
		if err := sink.Send(snap); err != nil {
			return err
		}
		if snap.Final {
			return nil
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.opts.IdleTimeout)
	}
}
