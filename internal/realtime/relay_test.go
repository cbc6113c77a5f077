package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/wall/internal/model"
	"github.com/d60-Lab/wall/internal/realtime"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/internal/testutil"
)

type failingBroker struct{ *realtime.Hub }

func (failingBroker) Publish(context.Context, realtime.Change) error { return errors.New("down") }

func TestRelay_PublishesOutboxInOrder(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewPostRepository(db)
	hub := realtime.NewHub(16)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	p := &model.Post{Author: "a", Content: "hello"}
	require.NoError(t, repo.Create(ctx, p))
	_, err = repo.Delete(ctx, p.ID)
	require.NoError(t, err)

	relay := realtime.NewRelay(db, hub, 1, 10, time.Hour)
	n, err := relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ins := <-sub.C
	assert.Equal(t, model.ChangeInsert, ins.Type)
	assert.Equal(t, realtime.TablePosts, ins.Table)
	var rec model.Post
	require.NoError(t, json.Unmarshal(ins.Record, &rec))
	assert.Equal(t, p.ID, rec.ID)
	assert.Equal(t, "hello", rec.Content)

	del := <-sub.C
	assert.Equal(t, model.ChangeDelete, del.Type)
	assert.Empty(t, del.Record)
	assert.NotEmpty(t, del.OldRecord)

	var pending int64
	require.NoError(t, db.Model(&model.PostChange{}).Where("status <> ?", model.ChangeStatusDone).Count(&pending).Error)
	assert.Zero(t, pending)

	n, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	select {
	case d := <-relay.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	default:
		t.Fatal("expected latency sample")
	}
}

func TestRelay_PublishFailureKeepsChangesPending(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewPostRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Post{Author: "a", Content: "x"}))

	relay := realtime.NewRelay(db, failingBroker{realtime.NewHub(1)}, 1, 10, time.Hour)
	n, err := relay.ProcessOnce(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	var c model.PostChange
	require.NoError(t, db.First(&c).Error)
	assert.Equal(t, model.ChangeStatusPending, c.Status)
}

func TestRelay_StartStopAndPurge(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewPostRepository(db)
	hub := realtime.NewHub(16)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	relay := realtime.NewRelay(db, hub, 1, 10, 10*time.Millisecond)
	stop := relay.Start()

	require.NoError(t, repo.Create(ctx, &model.Post{Author: "a", Content: "live"}))
	select {
	case c := <-sub.C:
		assert.Equal(t, model.ChangeInsert, c.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not publish")
	}
	require.NoError(t, stop(ctx))

	require.NoError(t, db.Model(&model.PostChange{}).Where("1 = 1").Update("status", model.ChangeStatusProcessing).Error)
	requeued, err := relay.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	_, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	<-sub.C

	purged, err := relay.Purge(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
