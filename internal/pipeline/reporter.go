package pipeline

import (
	"context"
	"sync"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/sirupsen/logrus"
)

// attemptReporter 单次阶段尝试的进度上报
// 同一次尝试内进度单调不减,结束后的上报被忽略
type attemptReporter struct {
	ctx       context.Context
	publisher *progress.Publisher
	jobID     string
	phase     Phase
	logger    *logrus.Entry

	mu     sync.Mutex
	last   int
	closed bool
}

func newAttemptReporter(ctx context.Context, publisher *progress.Publisher, jobID string, phase Phase, logger *logrus.Entry) *attemptReporter {
	return &attemptReporter{
		ctx:       ctx,
		publisher: publisher,
		jobID:     jobID,
		phase:     phase,
		logger:    logger,
	}
}

// begin 阶段开始事件,进度归零
func (r *attemptReporter) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordinal := r.phase.Ordinal()
	r.last = 0
	r.append(&model.ProgressEvent{
		StageNumber:        &ordinal,
		StageName:          r.phase.Label(),
		DetailText:         "Started",
		ProgressPercentage: 0,
	})
}

// Report 实现 Reporter,子步骤进度最高 99
func (r *attemptReporter) Report(stage string, detail string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if percent < r.last {
		percent = r.last
	}
	if percent > 99 {
		percent = 99
	}
	r.last = percent
	if stage == "" {
		stage = r.phase.Label()
	}
	r.append(&model.ProgressEvent{
		StageName:          stage,
		DetailText:         detail,
		ProgressPercentage: percent,
	})
}

// complete 阶段成功事件
func (r *attemptReporter) complete(detail string) {
	r.finish(r.phase.Label()+" completed", detail, 100)
}

// fail 阶段失败事件,保留失败时的进度
func (r *attemptReporter) fail(message string) {
	r.mu.Lock()
	pct := r.last
	r.mu.Unlock()
	r.finish(r.phase.Label()+" failed", message, pct)
}

func (r *attemptReporter) finish(stage, detail string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.last = percent
	r.append(&model.ProgressEvent{
		StageName:          stage,
		DetailText:         detail,
		ProgressPercentage: percent,
	})
}

// append 写入事件,失败只记录日志,进度丢失不影响阶段结果
func (r *attemptReporter) append(ev *model.ProgressEvent) {
	ev.Phase = string(r.phase)
	if _, err := r.publisher.Append(r.ctx, r.jobID, ev); err != nil {
		r.logger.WithError(err).Warn("Failed to append progress event")
	}
}
