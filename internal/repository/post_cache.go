package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/internal/model"
	"github.com/d60-Lab/wall/pkg/logger"
)

const recentVersionKey = "wall:posts:recent:version"

// CacheStats 缓存命中统计（采样值）
type CacheStats struct {
	Hits   int64
	Misses int64
}

// CachedPostRepository caches the recent-posts window in redis. Every write
// bumps a shared version counter, so stale windows are never read again and
// simply expire.
type CachedPostRepository struct {
	PostRepository
	cache *redis.Client
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedPostRepository(repo PostRepository, cache *redis.Client, ttl time.Duration) *CachedPostRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedPostRepository{PostRepository: repo, cache: cache, ttl: ttl}
}

func (r *CachedPostRepository) ListRecent(ctx context.Context, limit int) ([]*model.Post, error) {
	ver, err := r.cache.Get(ctx, recentVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Warn("post cache unavailable, reading through", zap.Error(err))
		return r.PostRepository.ListRecent(ctx, limit)
	}

	key := fmt.Sprintf("wall:posts:recent:v%d:%d", ver, limit)
	if data, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		var out []*model.Post
		if uErr := json.Unmarshal(data, &out); uErr == nil {
			r.hits.Add(1)
			return out, nil
		}
	}
	r.misses.Add(1)

	rows, err := r.PostRepository.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rows); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return rows, nil
}

func (r *CachedPostRepository) Create(ctx context.Context, post *model.Post) error {
	if err := r.PostRepository.Create(ctx, post); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedPostRepository) Delete(ctx context.Context, id string) (*model.Post, error) {
	old, err := r.PostRepository.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx)
	return old, nil
}

func (r *CachedPostRepository) Stats() CacheStats {
	return CacheStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

func (r *CachedPostRepository) invalidate(ctx context.Context) {
	if err := r.cache.Incr(ctx, recentVersionKey).Err(); err != nil {
		logger.Warn("post cache invalidate failed", zap.Error(err))
	}
}
