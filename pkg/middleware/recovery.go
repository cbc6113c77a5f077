package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/pkg/logger"
	"github.com/d60-Lab/wall/pkg/response"
)

// Recovery 捕获 panic，记录日志并上报 Sentry（未初始化时上报为空操作）
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(c.Request)
		defer func() {
			if r := recover(); r != nil {
				eventID := hub.RecoverWithContext(c.Request.Context(), r)
				hub.Flush(2 * time.Second)
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				if eventID != nil {
					c.Header("X-Sentry-Event", string(*eventID))
				}
				response.Error(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

// InitSentry DSN 为空时跳过
func InitSentry(dsn, environment string, sampleRate float64) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		SampleRate:       sampleRate,
		AttachStacktrace: true,
	}); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	return nil
}
