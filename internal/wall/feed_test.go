package wall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(n int) []Post {
	rows := make([]Post, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		// 倒序：rows[0] 最新
		rows[i] = Post{ID: string(rune('a' + n - 1 - i)), Content: "p", CreatedAt: base.Add(time.Duration(n-i) * time.Minute)}
	}
	return rows
}

func TestFeed_LoadRoundTrip(t *testing.T) {
	store := newFakeStore(seed(3)...)
	feed := NewFeed(store, &fakeChanges{})

	photo := "https://blob.test/x.png"
	created, err := store.Insert(context.Background(), NewPost{Author: "me", Content: "round trip", PhotoURL: &photo})
	require.NoError(t, err)

	require.NoError(t, feed.Load(context.Background()))
	posts := feed.Snapshot().Posts
	require.Len(t, posts, 4)
	assert.Equal(t, created.ID, posts[0].ID)
	assert.Equal(t, "round trip", posts[0].Content)
	assert.Equal(t, "me", posts[0].Author)
	require.NotNil(t, posts[0].PhotoURL)
	assert.Equal(t, photo, *posts[0].PhotoURL)
}

func TestFeed_LoadIdempotent(t *testing.T) {
	feed := NewFeed(newFakeStore(seed(5)...), &fakeChanges{})
	require.NoError(t, feed.Load(context.Background()))
	first := feed.Snapshot().Posts
	require.NoError(t, feed.Load(context.Background()))
	assert.Equal(t, first, feed.Snapshot().Posts)
}

func TestFeed_LoadRespectsLimit(t *testing.T) {
	store := newFakeStore(seed(60)...)
	feed := NewFeed(store, &fakeChanges{})
	require.NoError(t, feed.Load(context.Background()))
	assert.Len(t, feed.Snapshot().Posts, DefaultFeedLimit)

	feed = NewFeed(store, &fakeChanges{}, WithFeedLimit(10))
	require.NoError(t, feed.Load(context.Background()))
	assert.Len(t, feed.Snapshot().Posts, 10)
}

func TestFeed_LoadFailureKeepsList(t *testing.T) {
	store := newFakeStore(seed(2)...)
	feed := NewFeed(store, &fakeChanges{})
	require.NoError(t, feed.Load(context.Background()))

	store.listErr = errors.New("connection refused")
	err := feed.Load(context.Background())
	assert.ErrorIs(t, err, ErrLoadFailed)

	st := feed.Snapshot()
	assert.Len(t, st.Posts, 2)
	assert.ErrorIs(t, st.Err, ErrLoadFailed)
	assert.Equal(t, DisplayError, st.Display())

	// 手动重试成功后清除错误
	store.listErr = nil
	require.NoError(t, feed.Load(context.Background()))
	assert.NoError(t, feed.Snapshot().Err)
}

func TestFeedState_Display(t *testing.T) {
	some := []Post{{ID: "x"}}
	boom := errors.New("boom")

	assert.Equal(t, DisplayLoading, FeedState{Loading: true}.Display())
	assert.Equal(t, DisplayLoading, FeedState{Loading: true, Err: boom}.Display())
	assert.Equal(t, DisplayPosts, FeedState{Loading: true, Posts: some}.Display())
	assert.Equal(t, DisplayError, FeedState{Err: boom, Posts: some}.Display())
	assert.Equal(t, DisplayEmpty, FeedState{}.Display())
	assert.Equal(t, DisplayPosts, FeedState{Posts: some}.Display())
}

func TestFeed_LoadingFlag(t *testing.T) {
	store := newFakeStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	store.onList = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}
	feed := NewFeed(store, &fakeChanges{})

	done := make(chan error, 1)
	go func() { done <- feed.Load(context.Background()) }()
	<-entered
	assert.True(t, feed.Snapshot().Loading)
	assert.Equal(t, DisplayLoading, feed.Snapshot().Display())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, feed.Snapshot().Loading)
	assert.Equal(t, DisplayEmpty, feed.Snapshot().Display())
}

func TestFeed_StaleLoadDiscarded(t *testing.T) {
	store := newFakeStore(seed(1)...)
	firstIn := make(chan struct{})
	releaseFirst := make(chan struct{})
	calls := 0
	store.onList = func(context.Context) error {
		calls++
		if calls == 1 {
			close(firstIn)
			<-releaseFirst
			return errors.New("slow and failed")
		}
		return nil
	}
	feed := NewFeed(store, &fakeChanges{})

	done := make(chan error, 1)
	go func() { done <- feed.Load(context.Background()) }()
	<-firstIn

	require.NoError(t, feed.Load(context.Background()))
	close(releaseFirst)
	assert.Error(t, <-done)

	st := feed.Snapshot()
	assert.NoError(t, st.Err)
	assert.Len(t, st.Posts, 1)
}

func TestFeed_ReloadReconcilesPlaceholders(t *testing.T) {
	store := newFakeStore(seed(2)...)
	feed := NewFeed(store, &fakeChanges{})
	require.NoError(t, feed.Load(context.Background()))

	feed.Prepend(Post{ID: TempPrefix + "t1", ClientToken: "t1", Content: "committed meanwhile", Status: StatusPending})
	feed.Prepend(Post{ID: TempPrefix + "t2", ClientToken: "t2", Content: "still pending", Status: StatusPending})

	row, err := store.Insert(context.Background(), NewPost{Content: "committed meanwhile", ClientToken: "t1"})
	require.NoError(t, err)

	require.NoError(t, feed.Load(context.Background()))
	posts := feed.Snapshot().Posts
	require.Len(t, posts, 4)
	assert.Equal(t, TempPrefix+"t2", posts[0].ID)
	assert.True(t, posts[0].Pending())
	assert.Equal(t, row.ID, posts[1].ID)

	// 已被重新加载吸收的占位帖：Replace 不再生效
	assert.False(t, feed.Replace(TempPrefix+"t1", *row))
	assert.Len(t, feed.Snapshot().Posts, 4)
}

func TestFeed_ReplaceDoesNotDuplicate(t *testing.T) {
	feed := NewFeed(newFakeStore(), &fakeChanges{})
	row := Post{ID: "real", Content: "x"}
	feed.Prepend(row)
	feed.Prepend(Post{ID: TempPrefix + "1", Status: StatusPending})

	assert.True(t, feed.Replace(TempPrefix+"1", row))
	posts := feed.Snapshot().Posts
	require.Len(t, posts, 1)
	assert.Equal(t, "real", posts[0].ID)
}

func TestFeed_MutationsIgnoreCommittedRows(t *testing.T) {
	feed := NewFeed(newFakeStore(), &fakeChanges{})
	feed.Prepend(Post{ID: "committed"})

	assert.False(t, feed.Remove("committed"))
	assert.False(t, feed.MarkFailed("committed", "x"))
	assert.False(t, feed.Replace("committed", Post{ID: "other"}))
	assert.Len(t, feed.Snapshot().Posts, 1)
}

func TestFeed_StartReloadsOnEveryEvent(t *testing.T) {
	store := newFakeStore(seed(1)...)
	changes := &fakeChanges{}
	feed := NewFeed(store, changes)

	stop, err := feed.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, changes.subs, 1)
	assert.Equal(t, TablePosts, changes.table)
	assert.Len(t, feed.Snapshot().Posts, 1)

	_, err = store.Insert(context.Background(), NewPost{Content: "remote"})
	require.NoError(t, err)
	sub := changes.subs[0]
	for _, typ := range []EventType{EventInsert, EventUpdate, EventDelete, EventResync} {
		sub.ch <- ChangeEvent{Type: typ, Table: TablePosts}
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.lists == 5
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, feed.Snapshot().Posts, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, stop(ctx))
	select {
	case <-sub.closed:
	default:
		t.Fatal("subscription not closed")
	}
}

func TestFeed_StartSubscribesBeforeInitialLoad(t *testing.T) {
	store := newFakeStore(seed(2)...)
	changes := &fakeChanges{ready: make(chan struct{})}
	subsAtFirstList := -1
	store.onList = func(context.Context) error {
		store.mu.Lock()
		defer store.mu.Unlock()
		if subsAtFirstList < 0 {
			subsAtFirstList = changes.count()
		}
		return nil
	}
	feed := NewFeed(store, changes)

	started := make(chan func(context.Context) error, 1)
	go func() {
		stop, err := feed.Start(context.Background())
		assert.NoError(t, err)
		started <- stop
	}()

	require.Eventually(t, func() bool { return changes.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.lists > 0
	}, 50*time.Millisecond, 5*time.Millisecond, "loaded before the subscription was live")

	close(changes.ready)
	stop := <-started
	t.Cleanup(func() { _ = stop(context.Background()) })

	store.mu.Lock()
	assert.Equal(t, 1, subsAtFirstList)
	store.mu.Unlock()
	assert.Len(t, feed.Snapshot().Posts, 2)
}

func TestFeed_StartLoadsWhenSubscriptionNeverReady(t *testing.T) {
	store := newFakeStore(seed(1)...)
	changes := &fakeChanges{ready: make(chan struct{})}
	feed := NewFeed(store, changes, WithLoadTimeout(20*time.Millisecond))

	stop, err := feed.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop(context.Background()) })
	assert.Len(t, feed.Snapshot().Posts, 1)
}

func TestFeed_StartSubscribeError(t *testing.T) {
	feed := NewFeed(newFakeStore(), &fakeChanges{err: errors.New("no realtime")})
	_, err := feed.Start(context.Background())
	assert.Error(t, err)
}

func TestFeed_Updates(t *testing.T) {
	feed := NewFeed(newFakeStore(), &fakeChanges{})
	feed.Prepend(Post{ID: "x"})
	select {
	case <-feed.Updates():
	default:
		t.Fatal("expected update notification")
	}
}
