package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/d60-Lab/wall/pkg/logger"
)

var ErrBrokerClosed = errors.New("broker closed")

// Broker publishes changes and hands out subscriptions.
type Broker interface {
	// Start begins receiving from the underlying transport. Non-blocking.
	Start(ctx context.Context) error
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context) (*Subscription, error)
	Close() error
}

// Subscription 单个订阅者；C 在 Close 或 ctx 结束后关闭
type Subscription struct {
	C <-chan Change

	ch      chan Change
	hub     *Hub
	once    sync.Once
	done    chan struct{}
	dropped atomic.Int64
}

// Close 幂等
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// Dropped 因队列满被丢弃的事件数
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Hub is the in-process fan-out used directly as the memory broker and as the
// local side of the redis and postgres brokers. Each subscriber has a bounded
// queue; when it is full the change is dropped for that subscriber only.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
}

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{subs: make(map[*Subscription]struct{}), queueSize: queueSize}
}

func (h *Hub) Start(context.Context) error { return nil }

func (h *Hub) Publish(_ context.Context, c Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrBrokerClosed
	}
	for s := range h.subs {
		select {
		case s.ch <- c:
		default:
			s.dropped.Add(1)
			logger.Warn("subscriber queue full, drop change", zap.String("type", c.Type))
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	ch := make(chan Change, h.queueSize)
	s := &Subscription{C: ch, ch: ch, hub: h, done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Len 当前订阅者数量
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}
