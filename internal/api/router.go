// Package api wires HTTP routes for the post store, blob store and realtime
// change feed.
package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/wall/config"
	"github.com/d60-Lab/wall/internal/api/handler"
	"github.com/d60-Lab/wall/pkg/middleware"
)

// NewRouter 注册全部路由
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(middleware.Logger(), middleware.Recovery())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	// websocket 与二进制对象不压缩
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/api/v1/realtime", "/storage/"})))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	limit := middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/posts", h.ListPosts)
		v1.POST("/posts", limit, h.CreatePost)
		v1.DELETE("/posts/:id", limit, h.DeletePost)
		v1.GET("/realtime", h.Realtime)
	}

	objects := r.Group("/storage/v1/object")
	{
		objects.POST("/:bucket/*key", limit, h.UploadObject)
		objects.GET("/public/:bucket/*key", h.GetObject)
	}

	return r
}
