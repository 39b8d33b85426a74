package progress

import (
	"context"
	"time"

	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
	"gorm.io/gorm"
)

// Notifier 事件追加后的通知,用于唤醒实时通道
type Notifier interface {
	Notify(jobID string)
}

// View 任务当前进度视图
type View struct {
	JobID       string              `json:"job_id"`
	Status      statemachine.Status `json:"status"`
	Stage       string              `json:"stage"`
	StageNumber *int                `json:"stage_number,omitempty"`
	Detail      string              `json:"detail,omitempty"`
	Percentage  int                 `json:"percentage"`
	Active      bool                `json:"active"` // 非活动状态下进度字段仅供参考
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Publisher 进度发布器
// 维护只追加的进度事件日志,并派生当前进度
type Publisher struct {
	db       *gorm.DB
	events   repository.ProgressEventRepository
	jobs     repository.JobRepository
	notifier Notifier
}

// NewPublisher 创建进度发布器,notifier 可以为 nil
func NewPublisher(db *gorm.DB, notifier Notifier) *Publisher {
	return &Publisher{
		db:       db,
		events:   repository.NewProgressEventRepository(db),
		jobs:     repository.NewJobRepository(db),
		notifier: notifier,
	}
}

// Append 追加进度事件
// 任务存在时总是成功,不根据事件内容拒绝
func (p *Publisher) Append(ctx context.Context, jobID string, event *model.ProgressEvent) (*model.ProgressEvent, error) {
	ev := *event
	ev.Seq = 0
	ev.JobID = jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.ProgressPercentage = clamp(ev.ProgressPercentage)

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := repository.NewJobRepository(tx)
		if _, err := jobs.FindByID(ctx, jobID); err != nil {
			return err
		}
		if err := repository.NewProgressEventRepository(tx).Append(ctx, &ev); err != nil {
			return err
		}
		return jobs.SetProgress(ctx, jobID, ev.StageName, ev.ProgressPercentage)
	})
	if err != nil {
		return nil, err
	}

	if p.notifier != nil {
		p.notifier.Notify(jobID)
	}
	return &ev, nil
}

// CurrentView 返回当前进度
// 取最近追加的事件,没有事件时回退到任务字段
func (p *Publisher) CurrentView(ctx context.Context, jobID string) (*View, error) {
	job, err := p.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	latest, err := p.events.Latest(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return viewOf(job, latest), nil
}

// Timeline 返回去重后的进度时间线
func (p *Publisher) Timeline(ctx context.Context, jobID string) ([]*model.ProgressEvent, error) {
	events, err := p.History(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return Dedup(events), nil
}

// History 按追加顺序返回全部事件
func (p *Publisher) History(ctx context.Context, jobID string) ([]*model.ProgressEvent, error) {
	if _, err := p.jobs.FindByID(ctx, jobID); err != nil {
		return nil, err
	}
	return p.events.FindByJobID(ctx, jobID)
}

// viewOf 由任务和最近事件构造视图
func viewOf(job *model.GenerationJob, latest *model.ProgressEvent) *View {
	v := &View{
		JobID:      job.ID,
		Status:     job.Status,
		Stage:      job.CurrentStage,
		Percentage: job.ProgressPercentage,
		Active:     job.Status.IsActive(),
		UpdatedAt:  job.UpdatedAt,
	}
	if latest != nil {
		v.Stage = latest.StageName
		v.StageNumber = latest.StageNumber
		v.Detail = latest.DetailText
		v.Percentage = latest.ProgressPercentage
		v.UpdatedAt = latest.Timestamp
	}
	return v
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
