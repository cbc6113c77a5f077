package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/wall/internal/model"
	"github.com/d60-Lab/wall/pkg/logger"
)

// Relay 从 post_changes 发件箱拉取事件并发布到 Broker
type Relay struct {
	db           *gorm.DB
	broker       Broker
	workers      int
	claimLimit   int
	pollInterval time.Duration
	metricsCh    chan time.Duration // outbox -> published latency
}

func NewRelay(db *gorm.DB, broker Broker, workers, claimLimit int, pollInterval time.Duration) *Relay {
	if workers <= 0 {
		workers = 1
	}
	if claimLimit <= 0 {
		claimLimit = 64
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Relay{db: db, broker: broker, workers: workers, claimLimit: claimLimit, pollInterval: pollInterval, metricsCh: make(chan time.Duration, 65536)}
}

func (w *Relay) Metrics() <-chan time.Duration { return w.metricsCh }

// Start 启动若干 worker 轮询发件箱；返回停止函数。
func (w *Relay) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Relay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(context.Background()); err != nil {
				logger.Warn("relay batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce claims one batch of pending changes and publishes them in
// commit order. A change that fails to publish goes back to pending together
// with the rest of the batch. Returns the number published.
func (w *Relay) ProcessOnce(ctx context.Context) (int, error) {
	var batch []*model.PostChange
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.ChangeStatusPending).
			Order("created_at").
			Limit(w.claimLimit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.PostChange{}).Where("id IN ?", ids).Update("status", model.ChangeStatusProcessing).Error
	})
	if err != nil {
		return 0, err
	}

	for i, c := range batch {
		if err := w.broker.Publish(ctx, ChangeFromOutbox(c)); err != nil {
			w.release(ctx, batch[i:])
			return i, err
		}
		now := time.Now().UTC()
		if err := w.db.WithContext(ctx).Model(&model.PostChange{}).
			Where("id = ?", c.ID).
			Updates(map[string]any{"status": model.ChangeStatusDone, "processed_at": now}).Error; err != nil {
			logger.Warn("mark change done failed", zap.String("id", c.ID), zap.Error(err))
		}
		if !c.CreatedAt.IsZero() {
			select {
			case w.metricsCh <- now.Sub(c.CreatedAt):
			default:
			}
		}
	}
	return len(batch), nil
}

// Requeue resets changes left in processing by a crashed relay.
func (w *Relay) Requeue(ctx context.Context) (int64, error) {
	res := w.db.WithContext(ctx).Model(&model.PostChange{}).
		Where("status = ?", model.ChangeStatusProcessing).
		Update("status", model.ChangeStatusPending)
	return res.RowsAffected, res.Error
}

// Purge removes delivered changes older than maxAge.
func (w *Relay) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	res := w.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ChangeStatusDone, time.Now().UTC().Add(-maxAge)).
		Delete(&model.PostChange{})
	return res.RowsAffected, res.Error
}

// RunPurge purges delivered changes every interval until ctx is cancelled.
func (w *Relay) RunPurge(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Purge(ctx, maxAge)
			if err != nil {
				logger.Error("change purge failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("change purge complete", zap.Int64("deleted", n))
			}
		}
	}
}

func (w *Relay) release(ctx context.Context, rest []*model.PostChange) {
	ids := make([]string, len(rest))
	for i, c := range rest {
		ids[i] = c.ID
	}
	if err := w.db.WithContext(ctx).Model(&model.PostChange{}).
		Where("id IN ?", ids).
		Update("status", model.ChangeStatusPending).Error; err != nil {
		logger.Warn("release changes failed", zap.Int("count", len(ids)), zap.Error(err))
	}
}
