package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/internal/model"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/pkg/logger"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// CreatePostInput 新帖参数
type CreatePostInput struct {
	Author      string  `validate:"required,max=128"`
	Content     string  `validate:"required"`
	PhotoURL    *string `validate:"omitempty,url"`
	ClientToken *string `validate:"omitempty,max=64"`
}

// PostService 帖子服务
type PostService interface {
	ListRecent(ctx context.Context, limit int) ([]*model.Post, error)
	Create(ctx context.Context, in CreatePostInput) (*model.Post, error)
	Delete(ctx context.Context, id string) error
}

type postService struct {
	repo       repository.PostRepository
	validate   *validator.Validate
	feedLimit  int
	maxContent int
}

func NewPostService(repo repository.PostRepository, validate *validator.Validate, feedLimit, maxContent int) PostService {
	if validate == nil {
		validate = validator.New()
	}
	if feedLimit <= 0 {
		feedLimit = 50
	}
	if maxContent <= 0 {
		maxContent = 280
	}
	return &postService{repo: repo, validate: validate, feedLimit: feedLimit, maxContent: maxContent}
}

// ListRecent limit 超出 [1, feedLimit] 时取 feedLimit
func (s *postService) ListRecent(ctx context.Context, limit int) ([]*model.Post, error) {
	if limit < 1 || limit > s.feedLimit {
		limit = s.feedLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

func (s *postService) Create(ctx context.Context, in CreatePostInput) (*model.Post, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(in.Content); n > s.maxContent {
		return nil, fmt.Errorf("%w: content cannot exceed %d characters", ErrInvalidInput, s.maxContent)
	}

	post := &model.Post{
		Author:      in.Author,
		Content:     in.Content,
		PhotoURL:    in.PhotoURL,
		ClientToken: in.ClientToken,
	}
	if err := s.repo.Create(ctx, post); err != nil {
		// 同一 client_token 重放：返回已提交的那一行
		if in.ClientToken != nil {
			if existing, lookupErr := s.repo.GetByClientToken(ctx, *in.ClientToken); lookupErr == nil {
				logger.Info("post insert replayed", zap.String("client_token", *in.ClientToken), zap.String("id", existing.ID))
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

func (s *postService) Delete(ctx context.Context, id string) error {
	_, err := s.repo.Delete(ctx, id)
	return err
}

func describe(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
