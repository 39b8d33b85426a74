package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/internal/live"
	"github.com/sirupsen/logrus"
)

// sseSink 将快照写为 SSE 事件
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

func (s sseSink) Send(snap *live.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.write("status", data)
}

func (s sseSink) Heartbeat() error {
	return s.write("heartbeat", []byte(fmt.Sprintf(`{"time":%d}`, time.Now().Unix())))
}

func (s sseSink) write(event string, data []byte) error {
	// SSE 格式: event: <name>\ndata: <json>\n\n
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SSEHandler 任务实时状态的 SSE 处理器
// 任务进入查看终态或空闲超时后服务端关闭连接
func SSEHandler(stream *live.Stream) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")

		// 1. 确认任务存在
		if _, err := stream.Source().Snapshot(c.Request.Context(), jobID); err != nil {
			HandleError(c, err, "subscribe to job")
			return
		}

		// 2. 获取 Flusher(用于刷新响应缓冲区)
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			Error(c, http.StatusInternalServerError, "streaming not supported", "")
			return
		}

		// 3. 设置 SSE 响应头
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no") // 禁用 Nginx 缓冲
		c.Status(http.StatusOK)
		flusher.Flush()

		// 4. 推送直到通道结束或客户端断开
		if err := stream.Run(c.Request.Context(), jobID, sseSink{w: c.Writer, flusher: flusher}); err != nil {
			GetLogger().WithError(err).WithFields(logrus.Fields{
				"job_id": jobID,
			}).Debug("SSE stream ended with error")
		}
	}
}
