package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/pkg/logger"
)

// NOTIFY payloads must stay below 8000 bytes.
const maxNotifyPayload = 7900

// PostgresBroker publishes with pg_notify and listens on a dedicated pooled
// connection. After a lost listener connection it relistens and emits a
// RESYNC change.
type PostgresBroker struct {
	pool    *pgxpool.Pool
	channel string
	hub     *Hub
	backoff time.Duration
	ownPool bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPostgresBroker(pool *pgxpool.Pool, channel string, queueSize int) *PostgresBroker {
	return &PostgresBroker{pool: pool, channel: channel, hub: NewHub(queueSize), backoff: time.Second}
}

func (b *PostgresBroker) Start(ctx context.Context) error {
	conn, err := b.listen(ctx)
	if err != nil {
		return err
	}
	lctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(lctx, conn)
	}()
	logger.Info("postgres broker listening", zap.String("channel", b.channel))
	return nil
}

func (b *PostgresBroker) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", b.channel, err)
	}
	return conn, nil
}

func (b *PostgresBroker) loop(ctx context.Context, conn *pgxpool.Conn) {
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()
	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.backoff):
			}
			c, err := b.listen(ctx)
			if err != nil {
				logger.Warn("postgres relisten failed", zap.Error(err))
				continue
			}
			conn = c
			_ = b.hub.Publish(ctx, resync())
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("postgres listener error, reconnecting", zap.Error(err))
			// 连接状态未知，直接丢弃
			_ = conn.Conn().Close(context.Background())
			conn.Release()
			conn = nil
			continue
		}

		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			logger.Error("decode postgres change", zap.Error(err))
			continue
		}
		_ = b.hub.Publish(ctx, c)
	}
}

func (b *PostgresBroker) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		c.Record, c.OldRecord = nil, nil
		if payload, err = json.Marshal(c); err != nil {
			return fmt.Errorf("marshal change: %w", err)
		}
	}
	_, err = b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload))
	return err
}

func (b *PostgresBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	return b.hub.Subscribe(ctx)
}

func (b *PostgresBroker) Close() error {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	if b.ownPool {
		b.pool.Close()
	}
	return b.hub.Close()
}
