package wall

import (
	"context"
	"io"
	"time"
)

// TablePosts is the only table the feed subscribes to.
const TablePosts = "posts"

// PostStore 帖子存储（查询最近帖子、插入并返回插入行）
type PostStore interface {
	ListRecent(ctx context.Context, limit int) ([]Post, error)
	Insert(ctx context.Context, p NewPost) (*Post, error)
}

// BlobStore 对象存储
type BlobStore interface {
	// Upload stores body under bucket/key and returns the stored path.
	Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (string, error)
	PublicURL(bucket, path string) string
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventResync follows a reconnect; changes may have been missed.
	EventResync EventType = "RESYNC"
)

// ChangeEvent is one row-level notification from the change feed.
type ChangeEvent struct {
	Type            EventType
	Table           string
	Record          *Post
	OldRecord       *Post
	CommitTimestamp time.Time
}

// Subscription is an open change-feed subscription. Events is closed after Close.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// ReadySubscription is a Subscription that reports when it is live on the
// server. Ready is closed once events committed from then on will be delivered.
type ReadySubscription interface {
	Subscription
	Ready() <-chan struct{}
}

// ChangeFeed 实时变更订阅
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// List is the mutable post list the submitter writes placeholders into.
// Each call must be atomic against the list's current contents.
type List interface {
	Prepend(p Post)
	Replace(tempID string, p Post) bool
	Remove(tempID string) bool
	MarkFailed(tempID, message string) bool
}
