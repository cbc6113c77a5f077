package wall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFeedLimit is the size of the most-recent window.
const DefaultFeedLimit = 50

// Display is what the feed area should show.
type Display int

const (
	DisplayPosts Display = iota
	DisplayLoading
	DisplayError
	DisplayEmpty
)

// FeedState is a point-in-time copy of the feed.
type FeedState struct {
	Posts   []Post
	Loading bool
	Err     error
}

// Display applies the feed's precedence: loading with nothing to show, then
// error, then empty, then the posts.
func (s FeedState) Display() Display {
	switch {
	case s.Loading && len(s.Posts) == 0:
		return DisplayLoading
	case s.Err != nil:
		return DisplayError
	case len(s.Posts) == 0:
		return DisplayEmpty
	default:
		return DisplayPosts
	}
}

// Feed holds the in-memory list of recent posts. It reloads the whole list
// from the PostStore on every change-feed event and accepts optimistic
// mutations from a Submitter.
type Feed struct {
	store   PostStore
	changes ChangeFeed
	limit   int
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	posts   []Post
	loading int
	err     error
	issued  uint64
	applied uint64

	updates chan struct{}
}

type FeedOption func(*Feed)

func WithFeedLimit(n int) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.limit = n
		}
	}
}

// WithLoadTimeout bounds each Load; zero means no bound beyond the caller's context.
func WithLoadTimeout(d time.Duration) FeedOption {
	return func(f *Feed) { f.timeout = d }
}

func WithFeedLogger(l *zap.Logger) FeedOption {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

func NewFeed(store PostStore, changes ChangeFeed, opts ...FeedOption) *Feed {
	f := &Feed{
		store:   store,
		changes: changes,
		limit:   DefaultFeedLimit,
		log:     zap.NewNop(),
		updates: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Updates 状态变化通知（合并发送，只表示“有变化”）
func (f *Feed) Updates() <-chan struct{} { return f.updates }

func (f *Feed) notify() {
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

func (f *Feed) Snapshot() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	posts := make([]Post, len(f.posts))
	copy(posts, f.posts)
	return FeedState{Posts: posts, Loading: f.loading > 0, Err: f.err}
}

// Load replaces the list with the most recent posts. On failure the current
// list is kept and the error is recorded until the next successful load.
// A result that arrives after a newer load has been applied is discarded.
func (f *Feed) Load(ctx context.Context) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	f.mu.Lock()
	f.issued++
	seq := f.issued
	f.loading++
	f.mu.Unlock()
	f.notify()

	fetched, err := f.store.ListRecent(ctx, f.limit)

	f.mu.Lock()
	f.loading--
	stale := seq < f.applied
	if !stale {
		f.applied = seq
		if err != nil {
			f.err = fmt.Errorf("%w: %v", ErrLoadFailed, err)
		} else {
			f.err = nil
			f.posts = reconcile(f.posts, fetched)
		}
	}
	f.mu.Unlock()
	f.notify()

	if err != nil {
		f.log.Warn("load posts failed", zap.Uint64("seq", seq), zap.Bool("stale", stale), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if stale {
		f.log.Debug("discarded stale load", zap.Uint64("seq", seq))
	}
	return nil
}

// reconcile keeps local posts whose correlation token is not yet among the
// fetched rows, ahead of the fetched rows.
func reconcile(current, fetched []Post) []Post {
	committed := make(map[string]struct{}, len(fetched))
	for _, p := range fetched {
		if p.ClientToken != "" {
			committed[p.ClientToken] = struct{}{}
		}
	}
	next := make([]Post, 0, len(fetched)+1)
	for _, p := range current {
		if !p.Local() {
			continue
		}
		if _, ok := committed[p.ClientToken]; ok && p.ClientToken != "" {
			continue
		}
		next = append(next, p)
	}
	for _, p := range fetched {
		p.Status = StatusCommitted
		p.Error = ""
		next = append(next, p)
	}
	return next
}

// readyWait bounds how long Start waits for a subscription to go live when
// no load timeout is configured.
const readyWait = 5 * time.Second

// Start subscribes to the change feed, then loads the feed and keeps it
// fresh: every change event triggers a full Load. Subscribing first means a
// change committed during the initial load still arrives as an event. The
// returned function closes the subscription and waits for the event loop to
// exit.
func (f *Feed) Start(ctx context.Context) (func(context.Context) error, error) {
	loopCtx, cancel := context.WithCancel(context.Background())
	sub, err := f.changes.Subscribe(loopCtx, TablePosts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", TablePosts, err)
	}
	f.waitReady(ctx, sub)

	if err := f.Load(ctx); err != nil {
		f.log.Warn("initial load failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				f.log.Debug("change event", zap.String("type", string(ev.Type)))
				_ = f.Load(loopCtx)
			}
		}
	}()

	return func(ctx context.Context) error {
		cancel()
		closeErr := sub.Close()
		select {
		case <-done:
			return closeErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

// waitReady blocks until a ReadySubscription is live, the wait bound passes
// or ctx ends. A subscription that never becomes ready still gets its
// initial load.
func (f *Feed) waitReady(ctx context.Context, sub Subscription) {
	rs, ok := sub.(ReadySubscription)
	if !ok {
		return
	}
	wait := f.timeout
	if wait <= 0 {
		wait = readyWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-rs.Ready():
	case <-timer.C:
		f.log.Warn("subscription not ready, loading anyway", zap.Duration("waited", wait))
	case <-ctx.Done():
	}
}

func (f *Feed) Prepend(p Post) {
	f.mu.Lock()
	next := make([]Post, 0, len(f.posts)+1)
	next = append(next, p)
	f.posts = append(next, f.posts...)
	f.mu.Unlock()
	f.notify()
}

// Replace swaps the placeholder tempID for the committed row. It is a no-op
// when a reload already reconciled the placeholder.
func (f *Feed) Replace(tempID string, p Post) bool {
	p.Status = StatusCommitted
	p.Error = ""

	f.mu.Lock()
	idx := f.index(tempID)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	next := make([]Post, 0, len(f.posts))
	for i, cur := range f.posts {
		switch {
		case i == idx:
			next = append(next, p)
		case cur.ID == p.ID:
			// 重新加载已经带回了这一行
		default:
			next = append(next, cur)
		}
	}
	f.posts = next
	f.mu.Unlock()
	f.notify()
	return true
}

func (f *Feed) Remove(tempID string) bool {
	f.mu.Lock()
	idx := f.index(tempID)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	next := make([]Post, 0, len(f.posts)-1)
	next = append(next, f.posts[:idx]...)
	f.posts = append(next, f.posts[idx+1:]...)
	f.mu.Unlock()
	f.notify()
	return true
}

func (f *Feed) MarkFailed(tempID, message string) bool {
	f.mu.Lock()
	idx := f.index(tempID)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	next := make([]Post, len(f.posts))
	copy(next, f.posts)
	next[idx].Status = StatusFailed
	next[idx].Error = message
	f.posts = next
	f.mu.Unlock()
	f.notify()
	return true
}

// DismissFailed drops every failed placeholder from the list.
func (f *Feed) DismissFailed() int {
	f.mu.Lock()
	next := make([]Post, 0, len(f.posts))
	for _, p := range f.posts {
		if !p.Failed() {
			next = append(next, p)
		}
	}
	n := len(f.posts) - len(next)
	f.posts = next
	f.mu.Unlock()
	if n > 0 {
		f.notify()
	}
	return n
}

// index 只匹配本地占位帖
func (f *Feed) index(tempID string) int {
	for i, p := range f.posts {
		if p.ID == tempID && p.Local() {
			return i
		}
	}
	return -1
}
