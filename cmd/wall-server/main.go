package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/wall/config"
	"github.com/d60-Lab/wall/internal/api"
	"github.com/d60-Lab/wall/internal/api/handler"
	"github.com/d60-Lab/wall/internal/realtime"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/internal/service"
	"github.com/d60-Lab/wall/internal/storage"
	"github.com/d60-Lab/wall/pkg/database"
	"github.com/d60-Lab/wall/pkg/logger"
	"github.com/d60-Lab/wall/pkg/middleware"
	"github.com/d60-Lab/wall/pkg/tracing"
)

const (
	purgeInterval = 10 * time.Minute
	purgeMaxAge   = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("wall-server", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("db-driver", "sqlite", "database driver: sqlite | postgres")
	flags.String("db-dsn", "wall.db", "database DSN")
	flags.String("redis-addr", "", "redis address; enables the read cache")
	flags.String("realtime", "memory", "realtime backend: memory | redis | postgres")
	flags.String("storage", "./data/storage", "blob store root directory")
	flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := middleware.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.SampleRate); err != nil {
		return err
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()
	if err := repository.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var rdb *redis.Client
	repo := repository.NewPostRepository(db)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		repo = repository.NewCachedPostRepository(repo, rdb, cfg.Redis.CacheTTL)
		logger.Info("redis read cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	broker, err := realtime.Open(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer broker.Close()

	relay := realtime.NewRelay(db, broker, cfg.Realtime.RelayWorkers, cfg.Realtime.RelayClaim, cfg.Realtime.RelayPoll)
	if n, err := relay.Requeue(ctx); err != nil {
		logger.Warn("requeue stuck changes failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("requeued stuck changes", zap.Int64("count", n))
	}
	stopRelay := relay.Start()

	store, err := storage.NewOSStore(cfg.Storage.Root, cfg.Storage.MaxUploadBytes, cfg.Storage.AllowedTypes)
	if err != nil {
		return err
	}

	posts := service.NewPostService(repo, validator.New(), cfg.Wall.FeedLimit, cfg.Wall.MaxContentLength)
	h := handler.NewHandler(posts, store, broker, handler.Options{
		FeedLimit:    cfg.Wall.FeedLimit,
		AllowedTypes: cfg.Storage.AllowedTypes,
		PingInterval: cfg.Realtime.PingInterval,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(cfg, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("wall-server listening",
			zap.String("addr", srv.Addr),
			zap.String("db", cfg.Database.Driver),
			zap.String("realtime", cfg.Realtime.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		relay.RunPurge(gctx, purgeInterval, purgeMaxAge)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// websocket 连接已被 hijack，Shutdown 不会等待；关闭 broker 让它们退出
		err := stopRelay(sctx)
		_ = broker.Close()
		if serr := srv.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
		return err
	})
	return g.Wait()
}
