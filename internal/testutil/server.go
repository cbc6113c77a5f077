package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/d60-Lab/wall/config"
	"github.com/d60-Lab/wall/internal/api"
	"github.com/d60-Lab/wall/internal/api/handler"
	"github.com/d60-Lab/wall/internal/realtime"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/internal/service"
	"github.com/d60-Lab/wall/internal/storage"
)

// Server 完整的测试后端：sqlite + 内存 Hub + 内存对象存储 + Relay
type Server struct {
	*httptest.Server
	Config *config.Config
	DB     *gorm.DB
	Hub    *realtime.Hub
	Store  *storage.Store
	Posts  service.PostService
}

// TestConfig 测试用配置（不读文件与环境变量）
func TestConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		Realtime:  config.RealtimeConfig{Backend: "memory", QueueSize: 64, RelayWorkers: 1, RelayClaim: 64, RelayPoll: 10 * time.Millisecond, PingInterval: time.Second},
		Storage:   config.StorageConfig{MaxUploadBytes: 5 << 20, AllowedTypes: []string{"image/jpeg", "image/png", "image/gif"}},
		Wall:      config.WallConfig{FeedLimit: 50, MaxContentLength: 280, Bucket: "wall-photos"},
		RateLimit: config.RateLimitConfig{},
	}
}

// NewServer 启动测试后端，测试结束时自动关闭
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	cfg := TestConfig()
	db := OpenDB(tb)

	hub := realtime.NewHub(cfg.Realtime.QueueSize)
	relay := realtime.NewRelay(db, hub, cfg.Realtime.RelayWorkers, cfg.Realtime.RelayClaim, cfg.Realtime.RelayPoll)
	stop := relay.Start()
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stop(ctx)
	})
	tb.Cleanup(func() { _ = hub.Close() })

	store := storage.NewStore(afero.NewMemMapFs(), cfg.Storage.MaxUploadBytes, cfg.Storage.AllowedTypes)
	posts := service.NewPostService(repository.NewPostRepository(db), validator.New(), cfg.Wall.FeedLimit, cfg.Wall.MaxContentLength)
	h := handler.NewHandler(posts, store, hub, handler.Options{
		FeedLimit:    cfg.Wall.FeedLimit,
		AllowedTypes: cfg.Storage.AllowedTypes,
		PingInterval: cfg.Realtime.PingInterval,
	})

	srv := httptest.NewServer(api.NewRouter(cfg, h))
	tb.Cleanup(srv.Close)

	return &Server{Server: srv, Config: cfg, DB: db, Hub: hub, Store: store, Posts: posts}
}
