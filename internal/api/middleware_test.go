package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/internal/api"
	"github.com/mautops/genqueue/internal/config"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequestIDMiddleware 测试生成与沿用请求 ID
func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(api.RequestIDMiddleware())
	router.GET("/test", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"request_id": c.GetString("request_id"),
			"operator":   service.GetOperator(ctx),
			"user_agent": service.GetUserAgent(ctx),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "custom-request-id")
	req.Header.Set("X-Operator", "editor-7")
	req.Header.Set("User-Agent", "curl/8")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "custom-request-id", w.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "custom-request-id", body["request_id"])
	assert.Equal(t, "editor-7", body["operator"])
	assert.Equal(t, "curl/8", body["user_agent"])
}

// TestCORSMiddleware 测试跨域配置
func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(api.CORSMiddleware(config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// TestRateLimitMiddleware 测试限流
func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(api.RateLimitMiddleware(1, 2))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	unlimited := gin.New()
	unlimited.Use(api.RateLimitMiddleware(0, 0))
	unlimited.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		unlimited.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

// TestSecurityHeadersMiddleware 测试安全头
func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, hsts := range []bool{false, true} {
		router := gin.New()
		router.Use(api.SecurityHeadersMiddleware(hsts))
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, hsts, w.Header().Get("Strict-Transport-Security") != "")
	}
}

// TestStatusFor 测试领域错误映射
func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: topic", model.ErrValidation):           http.StatusBadRequest,
		fmt.Errorf("%w: job x", model.ErrNotFound):             http.StatusNotFound,
		fmt.Errorf("%w: busy", model.ErrConflict):              http.StatusConflict,
		fmt.Errorf("%w: not retryable", model.ErrPrecondition): http.StatusPreconditionFailed,
		errors.New("disk full"):                                http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, api.StatusFor(err), err.Error())
	}
}

// TestErrorHandlerMiddleware 测试 c.Error 的统一输出
func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(api.ErrorHandlerMiddleware())
	router.GET("/domain", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("%w: job 1", model.ErrNotFound))
	})
	router.GET("/api-error", func(c *gin.Context) {
		_ = c.Error(api.WrapError(errors.New("bad input"), http.StatusBadRequest, "invalid request"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domain", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api-error", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid request", resp.Message)
	assert.Equal(t, "bad input", resp.Detail)
}

// TestNewPaginationInfo 测试分页计算
func TestNewPaginationInfo(t *testing.T) {
	p := api.NewPaginationInfo(0, 0, 41)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
	assert.Equal(t, 3, p.TotalPage)

	assert.Equal(t, 0, api.NewPaginationInfo(1, 10, 0).TotalPage)
}

// TestNewLoggerFromConfig 测试日志默认字段与级别
func TestNewLoggerFromConfig(t *testing.T) {
	logger, err := api.NewLoggerFromConfig(&config.LogConfig{Level: "warn", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Warn("phase failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, api.ServiceName, entry["service"])
	assert.Equal(t, "phase failed", entry["msg"])
	assert.Equal(t, "warning", entry["level"])

	api.ApplyLogLevel(logger, "not-a-level")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

// TestHealthAndMetrics 测试健康检查与指标端点
func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	s.createJob(t, "metrics")
	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "genqueue_jobs_created_total")
	assert.Contains(t, w.Body.String(), "api_requests_total")
}

// TestNewLoggerFromConfig_File 测试文件输出
func TestNewLoggerFromConfig_File(t *testing.T) {
	dir := t.TempDir()
	logger, err := api.NewLoggerFromConfig(&config.LogConfig{Level: "info", Format: "text", Output: "file", Dir: dir})
	require.NoError(t, err)
	logger.Info("job queued")

	data, err := os.ReadFile(filepath.Join(dir, api.ServiceName+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "job queued")
	assert.Contains(t, string(data), "service=genqueue")
}

// TestSwaggerRoutes 测试文档页面和接口描述
func TestSwaggerRoutes(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		BasePath string                            `json:"basePath"`
		Paths    map[string]map[string]interface{} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "/api/v1", doc.BasePath)
	assert.Contains(t, doc.Paths["/jobs"], "post")
	assert.Contains(t, doc.Paths["/jobs/{id}"], "patch")
	assert.Contains(t, doc.Paths, "/jobs/{id}/phases/{phase}")

	w = s.do(t, http.MethodGet, "/swagger/index.html", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
