package pipeline_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mautops/genqueue/internal/database"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/pipeline"
	"github.com/mautops/genqueue/internal/progress"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/mautops/genqueue/internal/statemachine"
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

// newController 创建测试控制器
func newController(db *gorm.DB, opts pipeline.Options) (*pipeline.Controller, repository.JobRepository) {
	jobs := repository.NewJobRepository(db)
	opts.Logger = quietLogger()
	return pipeline.NewController(jobs, progress.NewPublisher(db, nil), opts), jobs
}

// createJob 以指定状态创建任务,result 可以为 nil
func createJob(t *testing.T, db *gorm.DB, status statemachine.Status, cfg *model.GenerationConfig, result *model.GenerationResult) *model.GenerationJob {
	if cfg == nil {
		cfg = &model.GenerationConfig{Topic: "Go concurrency", Keywords: []string{"go", "channels"}}
	}
	data, err := model.ToJSON(cfg)
	require.NoError(t, err)
	job := &model.GenerationJob{
		ID:       uuid.New().String(),
		Status:   status,
		Priority: model.DefaultPriority,
		Topic:    cfg.Topic,
		Config:   data,
	}
	if result != nil {
		job.Result, err = model.ToJSON(result)
		require.NoError(t, err)
		job.Title = result.Title
	}
	require.NoError(t, repository.NewJobRepository(db).Create(context.Background(), job))
	return job
}

func sampleResult() *model.GenerationResult {
	return &model.GenerationResult{
		Title: "Channels in practice",
		Body:  "<h2>Basics</h2><p>Channels connect goroutines.</p><h2>Patterns</h2><p>Fan out, fan in.</p>",
		Metadata: map[string]interface{}{
			"wordCount": float64(9),
		},
	}
}

// fakeContent 内容生成服务替身
type fakeContent struct {
	mu      sync.Mutex
	calls   int
	result  *model.GenerationResult
	err     error
	waitCtx bool
	started chan struct{}
	release chan struct{}
}

func (f *fakeContent) configure(result *model.GenerationResult, err error, waitCtx bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err, f.waitCtx = result, err, waitCtx
}

func (f *fakeContent) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeContent) Generate(ctx context.Context, cfg *model.GenerationConfig, r pipeline.Reporter) (*model.GenerationResult, error) {
	f.mu.Lock()
	f.calls++
	result, err, waitCtx := f.result, f.err, f.waitCtx
	started, release := f.started, f.release
	f.mu.Unlock()

	r.Report("Researching", "collecting sources", 30)
	r.Report("Drafting", "writing sections", 20)
	r.Report("Editing", "", 80)

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &model.GenerationResult{
			Title: "About " + cfg.Topic,
			Body:  "<h2>Intro</h2><p>Generated body.</p><h2>Details</h2><p>More text.</p>",
		}
	}
	return result.Clone(), nil
}

// fakeImages 图片生成服务替身
type fakeImages struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeImages) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeImages) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeImages) Generate(ctx context.Context, req *pipeline.ImageRequest, r pipeline.Reporter) (*model.ImageSet, error) {
	f.mu.Lock()
	f.calls++
	err, started, release := f.err, f.started, f.release
	f.mu.Unlock()

	r.Report("Rendering", "featured image", 40)
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &model.ImageSet{
		Featured:  &model.Image{URL: "https://cdn.example.com/featured.png", Alt: "featured"},
		Thumbnail: &model.Image{URL: "https://cdn.example.com/thumb.png"},
		Content: []model.Image{
			{URL: "https://cdn.example.com/1.png", Alt: "one"},
		},
	}, nil
}

// fakeEnhancer 增强服务替身
type fakeEnhancer struct {
	err error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, req *pipeline.EnhanceRequest, r pipeline.Reporter) (*pipeline.EnhanceResult, error) {
	r.Report("Analyzing", "keywords", 50)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.EnhanceResult{
		Body:            req.Body + `<p><a href="/guides/channels">Guide</a> <a href="https://blog.example.com/x">Sibling</a></p>`,
		SEOTitle:        "SEO: " + req.Title,
		MetaDescription: "Learn " + req.Title,
		StructuredData:  map[string]interface{}{"@type": "Article"},
	}, nil
}

// fakeArtifacts 草稿存储替身
type fakeArtifacts struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeArtifacts) CreateDraft(ctx context.Context, job *model.GenerationJob, result *model.GenerationResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("artifact store unavailable")
	}
	f.calls++
	return "draft-" + job.ID, nil
}
