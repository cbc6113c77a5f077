package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/wall/internal/model"
)

var ErrPostNotFound = errors.New("post not found")

// PostRepository 帖子仓储；所有写操作在同一事务内写入 post_changes 发件箱
type PostRepository interface {
	// Create 插入帖子并回填服务端字段（id、created_at）
	Create(ctx context.Context, post *model.Post) error
	// Delete 删除帖子，返回被删除的行
	Delete(ctx context.Context, id string) (*model.Post, error)
	GetByID(ctx context.Context, id string) (*model.Post, error)
	GetByClientToken(ctx context.Context, token string) (*model.Post, error)
	// ListRecent 按 created_at 倒序取最近 limit 条
	ListRecent(ctx context.Context, limit int) ([]*model.Post, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Post{}, &model.PostChange{}); err != nil {
		return fmt.Errorf("failed to migrate posts tables: %w", err)
	}
	return nil
}

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		return writeChange(tx, model.ChangeInsert, post.ID, post, nil)
	})
}

func (r *postRepository) Delete(ctx context.Context, id string) (*model.Post, error) {
	var old model.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&old).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&model.Post{}).Error; err != nil {
			return err
		}
		return writeChange(tx, model.ChangeDelete, id, nil, &old)
	})
	if err != nil {
		return nil, err
	}
	return &old, nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) GetByClientToken(ctx context.Context, token string) (*model.Post, error) {
	var p model.Post
	if err := r.db.WithContext(ctx).Where("client_token = ?", token).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) ListRecent(ctx context.Context, limit int) ([]*model.Post, error) {
	res := make([]*model.Post, 0, limit)
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&res).Error
	if err != nil {
		return nil, err
	}
	return res, nil
}

func writeChange(tx *gorm.DB, event, postID string, record, old *model.Post) error {
	change := &model.PostChange{
		ID:        uuid.New().String(),
		PostID:    postID,
		Event:     event,
		Status:    model.ChangeStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if record != nil {
		b, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		change.Record = string(b)
	}
	if old != nil {
		b, err := json.Marshal(old)
		if err != nil {
			return fmt.Errorf("marshal old record: %w", err)
		}
		change.OldRecord = string(b)
	}
	return tx.Create(change).Error
}
