package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/internal/api"
	"github.com/mautops/genqueue/internal/config"
	"github.com/mautops/genqueue/internal/database"
	"github.com/mautops/genqueue/internal/live"
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

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// stubContent 直接返回结果的内容生成服务
type stubContent struct{}

func (stubContent) Generate(ctx context.Context, cfg *model.GenerationConfig, r pipeline.Reporter) (*model.GenerationResult, error) {
	r.Report("Drafting", "", 50)
	return &model.GenerationResult{
		Title: "About " + cfg.Topic,
		Body:  "<p>Generated body.</p>",
	}, nil
}

// testServer API 测试环境
type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	jobs   repository.JobRepository
	ctrl   *pipeline.Controller
}

// setupTestServer 创建完整的测试路由
func setupTestServer(t *testing.T, cfg *config.Config) *testServer {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	if cfg == nil {
		cfg = config.Default()
	}

	jobs := repository.NewJobRepository(db)
	broker := live.NewBroker()
	publisher := progress.NewPublisher(db, broker)
	ctrl := pipeline.NewController(jobs, publisher, pipeline.Options{
		Content: stubContent{},
		Logger:  quietLogger(),
	})
	jobService := service.NewJobService(service.JobServiceDeps{
		Jobs:       jobs,
		History:    repository.NewStateHistoryRepository(db),
		Controller: ctrl,
		Publisher:  publisher,
		Notifier:   broker,
		AuditLog:   service.NewAuditLogService(repository.NewAuditLogRepository(db)),
		Logger:     quietLogger(),
	})
	stream := live.NewStream(live.NewStoreSource(jobs, publisher), broker, live.Options{
		PollInterval: 20 * time.Millisecond,
		IdleTimeout:  2 * time.Second,
	}, quietLogger())

	router := api.SetupRoutes(api.RouterOptions{
		Config:       cfg,
		DB:           db,
		JobService:   jobService,
		StatsService: service.NewStatisticsService(db),
		Stream:       stream,
		Logger:       quietLogger(),
	})
	return &testServer{router: router, db: db, jobs: jobs, ctrl: ctrl}
}

// do 发送请求并返回响应
func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// envelope 成功响应,data 延迟解析
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// createJob 通过 API 创建任务
func (s *testServer) createJob(t *testing.T, topic string) *model.GenerationJob {
	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{"topic": topic})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var job model.GenerationJob
	decode(t, w, &job)
	return &job
}

// generateJob 创建任务并同步执行内容阶段
func (s *testServer) generateJob(t *testing.T, topic string) *model.GenerationJob {
	job := s.createJob(t, topic)
	require.NoError(t, s.ctrl.Run(context.Background(), job.ID))
	return job
}
