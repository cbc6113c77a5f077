package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/wall/internal/model"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/internal/testutil"
)

func strptr(s string) *string { return &s }

func TestPostRepository_CreateAndListRecent(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewPostRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		p := &model.Post{Author: "a", Content: fmt.Sprintf("post %d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Create(ctx, p))
		assert.NotEmpty(t, p.ID)
	}

	list, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "post 2", list[0].Content)
	assert.Equal(t, "post 1", list[1].Content)

	var changes []model.PostChange
	require.NoError(t, db.Order("created_at").Find(&changes).Error)
	require.Len(t, changes, 3)
	for _, c := range changes {
		assert.Equal(t, model.ChangeInsert, c.Event)
		assert.Equal(t, model.ChangeStatusPending, c.Status)
		assert.NotEmpty(t, c.Record)
	}
}

func TestPostRepository_CreateAssignsServerFields(t *testing.T) {
	repo := repository.NewPostRepository(testutil.OpenDB(t))
	ctx := context.Background()

	p := &model.Post{Author: "a", Content: "hello", PhotoURL: strptr("http://x/y.png"), ClientToken: strptr("tok-1")}
	require.NoError(t, repo.Create(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := repo.GetByClientToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	require.NotNil(t, got.PhotoURL)
	assert.Equal(t, "http://x/y.png", *got.PhotoURL)

	// 相同 client_token 违反唯一索引
	dup := &model.Post{Author: "a", Content: "again", ClientToken: strptr("tok-1")}
	assert.Error(t, repo.Create(ctx, dup))
}

func TestPostRepository_Delete(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewPostRepository(db)
	ctx := context.Background()

	p := &model.Post{Author: "a", Content: "bye"}
	require.NoError(t, repo.Create(ctx, p))

	old, err := repo.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "bye", old.Content)

	_, err = repo.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrPostNotFound)

	_, err = repo.Delete(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrPostNotFound)

	var del model.PostChange
	require.NoError(t, db.Where("event = ?", model.ChangeDelete).First(&del).Error)
	assert.Equal(t, p.ID, del.PostID)
	assert.Contains(t, del.OldRecord, `"content":"bye"`)
	assert.Empty(t, del.Record)
}

func BenchmarkListRecent(b *testing.B) {
	repo := repository.NewPostRepository(testutil.OpenDB(b))
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 2000; i++ {
		_ = repo.Create(ctx, &model.Post{Author: "a", Content: fmt.Sprintf("p%d", i), CreatedAt: base.Add(time.Duration(i) * time.Millisecond)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = repo.ListRecent(ctx, 50)
	}
}
