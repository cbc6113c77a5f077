package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/wall/config"
)

// Open 按 realtime.backend 创建并启动 Broker。
// redis 后端需要 rdb；postgres 后端使用 database.dsn 单独建立 pgx 连接池。
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client) (Broker, error) {
	rc := cfg.Realtime
	var b Broker
	switch rc.Backend {
	case "", "memory":
		b = NewHub(rc.QueueSize)
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis broker requires a redis client")
		}
		b = NewRedisBroker(rdb, rc.Channel, rc.QueueSize)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open pgx pool: %w", err)
		}
		pb := NewPostgresBroker(pool, rc.Channel, rc.QueueSize)
		pb.ownPool = true
		b = pb
	default:
		return nil, fmt.Errorf("unknown realtime backend %q", rc.Backend)
	}
	if err := b.Start(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("start %s broker: %w", rc.Backend, err)
	}
	return b, nil
}
