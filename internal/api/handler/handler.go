package handler

import (
	"time"

	"github.com/d60-Lab/wall/internal/realtime"
	"github.com/d60-Lab/wall/internal/service"
	"github.com/d60-Lab/wall/internal/storage"
)

// Handler 聚合所有 HTTP 处理器依赖
type Handler struct {
	postService  service.PostService
	store        *storage.Store
	broker       realtime.Broker
	feedLimit    int
	allowedTypes []string
	pingInterval time.Duration
}

type Options struct {
	FeedLimit    int
	AllowedTypes []string
	PingInterval time.Duration
}

func NewHandler(postService service.PostService, store *storage.Store, broker realtime.Broker, opts Options) *Handler {
	if opts.FeedLimit <= 0 {
		opts.FeedLimit = 50
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Handler{
		postService:  postService,
		store:        store,
		broker:       broker,
		feedLimit:    opts.FeedLimit,
		allowedTypes: opts.AllowedTypes,
		pingInterval: opts.PingInterval,
	}
}
