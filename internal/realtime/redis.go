package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/pkg/logger"
)

// RedisBroker publishes through redis Pub/Sub so that every server instance
// sees changes committed by any other instance.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub

	mu sync.Mutex
	ps *redis.PubSub
	wg sync.WaitGroup
}

func NewRedisBroker(client *redis.Client, channel string, queueSize int) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, hub: NewHub(queueSize)}
}

func (b *RedisBroker) Start(ctx context.Context) error {
	ps := b.client.Subscribe(ctx, b.channel)
	// 等待订阅确认，避免 Start 返回后仍漏掉消息
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.mu.Lock()
	b.ps = ps
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				logger.Error("decode redis change", zap.Error(err))
				continue
			}
			_ = b.hub.Publish(context.Background(), c)
		}
	}()
	logger.Info("redis broker listening", zap.String("channel", b.channel))
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	return b.hub.Subscribe(ctx)
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps := b.ps
	b.ps = nil
	b.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	b.wg.Wait()
	_ = b.hub.Close()
	return err
}
