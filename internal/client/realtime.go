package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/wall/internal/wall"
)

// subscribed is the server's acknowledgement that the subscription is live.
const subscribed = "SUBSCRIBED"

type changeMessage struct {
	Type            string          `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Subscription is a self-reconnecting change-feed subscription. After a
// reconnect it emits a RESYNC event because changes may have been missed.
type Subscription struct {
	events chan wall.ChangeEvent
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	readyOnce sync.Once
	connected bool
}

func (s *Subscription) Events() <-chan wall.ChangeEvent { return s.events }

// Ready is closed once the first connection is acknowledged by the server.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Subscribe 订阅表变更，断线后按 reconnectDelay 重连
func (c *Client) Subscribe(ctx context.Context, table string) (wall.Subscription, error) {
	return c.SubscribeChanges(ctx, table)
}

func (c *Client) SubscribeChanges(ctx context.Context, table string) (*Subscription, error) {
	wsURL, err := c.realtimeURL(table)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events: make(chan wall.ChangeEvent, 16),
		ready:  make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx, wsURL, s)
	return s, nil
}

func (c *Client) realtimeURL(table string) (string, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/realtime"
	u.RawQuery = url.Values{"table": {table}}.Encode()
	return u.String(), nil
}

func (c *Client) run(ctx context.Context, wsURL string, s *Subscription) {
	defer close(s.done)
	defer close(s.events)
	for {
		if err := c.stream(ctx, wsURL, s); err != nil && ctx.Err() == nil {
			c.log.Warn("realtime connection error, reconnecting",
				zap.Duration("delay", c.reconnectDelay), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) stream(ctx context.Context, wsURL string, s *Subscription) error {
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	// ReadJSON 不感知 ctx，取消时关闭连接以解除阻塞
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg changeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read realtime: %w", err)
		}

		if msg.Type == subscribed {
			resync := s.connected
			s.connected = true
			s.readyOnce.Do(func() { close(s.ready) })
			c.log.Info("realtime subscribed", zap.Bool("resync", resync))
			if !resync {
				continue
			}
			msg = changeMessage{Type: string(wall.EventResync), Table: msg.Table, CommitTimestamp: msg.CommitTimestamp}
		}

		ev, err := toEvent(msg)
		if err != nil {
			c.log.Warn("bad change event", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func toEvent(msg changeMessage) (wall.ChangeEvent, error) {
	ev := wall.ChangeEvent{
		Type:            wall.EventType(msg.Type),
		Table:           msg.Table,
		CommitTimestamp: msg.CommitTimestamp,
	}
	var err error
	if ev.Record, err = decodeRecord(msg.Record); err != nil {
		return ev, fmt.Errorf("record: %w", err)
	}
	if ev.OldRecord, err = decodeRecord(msg.OldRecord); err != nil {
		return ev, fmt.Errorf("old_record: %w", err)
	}
	return ev, nil
}

func decodeRecord(raw json.RawMessage) (*wall.Post, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p wall.Post
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
