package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mautops/genqueue/internal/live"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusEvents 解析响应中的 status 事件
func statusEvents(t *testing.T, body string) []live.Snapshot {
	var out []live.Snapshot
	for _, block := range strings.Split(body, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) != 2 || lines[0] != "event: status" {
			continue
		}
		var snap live.Snapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &snap))
		out = append(out, snap)
	}
	return out
}

// TestSSE_TerminalJob 测试终态任务只推送一次
func TestSSE_TerminalJob(t *testing.T) {
	s := setupTestServer(t, nil)
	job := s.generateJob(t, "T")

	w := s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/events", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := statusEvents(t, w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, statemachine.StatusGenerated, events[0].Status)
	assert.True(t, events[0].Final)
}

// TestSSE_FollowsJob 测试通道推送状态变化直到终态
func TestSSE_FollowsJob(t *testing.T) {
	s := setupTestServer(t, nil)
	job := s.createJob(t, "T")

	done := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		done <- s.ctrl.Run(context.Background(), job.ID)
	}()

	w := s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/events", nil)
	require.NoError(t, <-done)

	events := statusEvents(t, w.Body.String())
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, statemachine.StatusQueued, events[0].Status)
	assert.False(t, events[0].Final)
	last := events[len(events)-1]
	assert.Equal(t, statemachine.StatusGenerated, last.Status)
	assert.True(t, last.Final)
}

// TestSSE_MissingJob 测试不存在的任务
func TestSSE_MissingJob(t *testing.T) {
	s := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing/events", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
