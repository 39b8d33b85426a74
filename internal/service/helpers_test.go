package service_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/mautops/genqueue/internal/database"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/pipeline"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// recordingEnqueuer 记录入队的任务
type recordingEnqueuer struct {
	mu   sync.Mutex
	ids  []string
	full bool
}

func (e *recordingEnqueuer) Enqueue(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return false
	}
	e.ids = append(e.ids, id)
	return true
}

func (e *recordingEnqueuer) IDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

// recordingNotifier 记录通知
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Notify(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *recordingNotifier) Count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, v := range n.ids {
		if v == id {
			count++
		}
	}
	return count
}

// stubContent 直接返回结果的内容生成服务
type stubContent struct{}

func (stubContent) Generate(ctx context.Context, cfg *model.GenerationConfig, r pipeline.Reporter) (*model.GenerationResult, error) {
	r.Report("Drafting", "", 50)
	return &model.GenerationResult{
		Title: "About " + cfg.Topic,
		Body:  "<h2>Intro</h2><p>Generated body.</p>",
	}, nil
}

// stubEnhancer 返回固定 SEO 字段的增强服务
type stubEnhancer struct{}

func (stubEnhancer) Enhance(ctx context.Context, req *pipeline.EnhanceRequest, r pipeline.Reporter) (*pipeline.EnhanceResult, error) {
	return &pipeline.EnhanceResult{
		SEOTitle:        "SEO: " + req.Title,
		MetaDescription: "Learn " + req.Title,
	}, nil
}

// fixture 服务测试环境
type fixture struct {
	db       *gorm.DB
	jobs     repository.JobRepository
	ctrl     *pipeline.Controller
	enqueuer *recordingEnqueuer
	notifier *recordingNotifier
	audit    service.AuditLogService
	svc      service.JobService
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	jobs := repository.NewJobRepository(db)
	notifier := &recordingNotifier{}
	publisher := progress.NewPublisher(db, notifier)
	ctrl := pipeline.NewController(jobs, publisher, pipeline.Options{
		Content:  stubContent{},
		Enhancer: stubEnhancer{},
		Logger:   quietLogger(),
	})
	enqueuer := &recordingEnqueuer{}
	audit := service.NewAuditLogService(repository.NewAuditLogRepository(db))
	svc := service.NewJobService(service.JobServiceDeps{
		Jobs:       jobs,
		History:    repository.NewStateHistoryRepository(db),
		Controller: ctrl,
		Publisher:  publisher,
		Enqueuer:   enqueuer,
		Notifier:   notifier,
		AuditLog:   audit,
		BatchLimit: 4,
		Logger:     quietLogger(),
	})
	return &fixture{
		db:       db,
		jobs:     jobs,
		ctrl:     ctrl,
		enqueuer: enqueuer,
		notifier: notifier,
		audit:    audit,
		svc:      svc,
	}
}

// create 通过服务创建任务
func (f *fixture) create(t *testing.T, topic string) *model.GenerationJob {
	job, err := f.svc.Create(context.Background(), &service.CreateJobRequest{
		GenerationConfig: model.GenerationConfig{Topic: topic},
	})
	require.NoError(t, err)
	return job
}

// generate 创建任务并同步执行内容阶段
func (f *fixture) generate(t *testing.T, topic string) *model.GenerationJob {
	job := f.create(t, topic)
	require.NoError(t, f.ctrl.Run(context.Background(), job.ID))
	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	return got
}
