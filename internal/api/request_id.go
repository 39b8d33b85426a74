package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mautops/genqueue/internal/service"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
	operatorHeader  = "X-Operator"
	maxHeaderIDLen  = 64
)

// RequestIDMiddleware 生成或沿用请求 ID,并把请求信息写入 context 供审计日志使用
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > maxHeaderIDLen {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		operator := strings.TrimSpace(c.GetHeader(operatorHeader))
		if len(operator) > maxHeaderIDLen {
			operator = operator[:maxHeaderIDLen]
		}
		ctx := service.WithRequestInfo(c.Request.Context(), requestID, c.ClientIP(), c.Request.UserAgent(), operator)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
