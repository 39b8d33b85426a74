package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/genqueue/internal/live"
	"github.com/mautops/genqueue/internal/model"
	"github.com/sirupsen/logrus"
)

var upgrader = gorillaWS.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 跨域由 CORS 中间件控制
		return true
	},
}

// message 推送给客户端的消息
type message struct {
	Type string         `json:"type"`
	Data *live.Snapshot `json:"data,omitempty"`
}

// clientSink 将快照写入客户端发送队列
type clientSink struct {
	client *Client
}

func (s clientSink) Send(snap *live.Snapshot) error {
	data, err := json.Marshal(message{Type: "status", Data: snap})
	if err != nil {
		return err
	}
	if !s.client.Enqueue(data) {
		return errors.New("websocket client is gone")
	}
	return nil
}

// Heartbeat 由 WritePump 的 ping 负责
func (s clientSink) Heartbeat() error {
	return nil
}

// WebSocketHandler 任务实时状态的 WebSocket 处理器
func WebSocketHandler(hub *Hub, stream *live.Stream) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")

		// 1. 确认任务存在
		if _, err := stream.Source().Snapshot(c.Request.Context(), jobID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to load job"})
			return
		}

		// 2. 升级连接
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		// 3. 创建并注册客户端
		client := NewClient(uuid.New().String(), jobID, hub, conn)
		if !hub.Add(client) {
			conn.Close()
			return
		}

		// 4. 连接断开时停止推送
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			client.ReadPump()
			cancel()
		}()
		go client.WritePump()

		// 5. 推送直到通道结束
		if err := stream.Run(ctx, jobID, clientSink{client: client}); err != nil {
			logrus.WithError(err).WithField("job_id", jobID).Debug("websocket stream ended with error")
		}
		cancel()
		hub.Remove(client)
	}
}
