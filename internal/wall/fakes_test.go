package wall

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu        sync.Mutex
	rows      []Post
	listErr   error
	insertErr error
	lists     int
	inserts   []NewPost
	onInsert  func(ctx context.Context) error
	onList    func(ctx context.Context) error
	clock     time.Time
}

func newFakeStore(rows ...Post) *fakeStore {
	return &fakeStore{rows: rows, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeStore) ListRecent(ctx context.Context, limit int) ([]Post, error) {
	s.mu.Lock()
	hook := s.onList
	s.lists++
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	n := len(s.rows)
	if n > limit {
		n = limit
	}
	out := make([]Post, n)
	copy(out, s.rows[:n])
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, p NewPost) (*Post, error) {
	s.mu.Lock()
	hook := s.onInsert
	s.inserts = append(s.inserts, p)
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.clock = s.clock.Add(time.Second)
	row := Post{
		ID:          uuid.NewString(),
		Author:      p.Author,
		Content:     p.Content,
		CreatedAt:   s.clock,
		PhotoURL:    p.PhotoURL,
		ClientToken: p.ClientToken,
	}
	s.rows = append([]Post{row}, s.rows...)
	return &row, nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts)
}

type upload struct {
	bucket, key, contentType string
	size                     int64
}

type fakeBlobs struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (b *fakeBlobs) Upload(_ context.Context, bucket, key string, body io.Reader, size int64, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, upload{bucket: bucket, key: key, contentType: contentType, size: size})
	if b.err != nil {
		return "", b.err
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	return key, nil
}

func (b *fakeBlobs) PublicURL(bucket, path string) string {
	return "https://blob.test/storage/v1/object/public/" + bucket + "/" + path
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

type fakeSub struct {
	ch     chan ChangeEvent
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSub) Events() <-chan ChangeEvent { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type readySub struct {
	*fakeSub
	ready chan struct{}
}

func (s readySub) Ready() <-chan struct{} { return s.ready }

type fakeChanges struct {
	mu    sync.Mutex
	subs  []*fakeSub
	table string
	err   error
	ready chan struct{} // 非空时返回 ReadySubscription
}

func (f *fakeChanges) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeChanges) Subscribe(_ context.Context, table string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.table = table
	s := &fakeSub{ch: make(chan ChangeEvent, 8), closed: make(chan struct{})}
	f.subs = append(f.subs, s)
	if f.ready != nil {
		return readySub{fakeSub: s, ready: f.ready}, nil
	}
	return s, nil
}

// recorder wraps a Feed and records each mutation in order.
type recorder struct {
	*Feed
	mu  sync.Mutex
	ops []string
}

func (r *recorder) log(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) Prepend(p Post) { r.log("prepend"); r.Feed.Prepend(p) }

func (r *recorder) Replace(id string, p Post) bool { r.log("replace"); return r.Feed.Replace(id, p) }

func (r *recorder) Remove(id string) bool { r.log("remove"); return r.Feed.Remove(id) }

func (r *recorder) MarkFailed(id, msg string) bool { r.log("mark_failed"); return r.Feed.MarkFailed(id, msg) }

func (r *recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func attachment(name, contentType string, size int64) *Attachment {
	return &Attachment{
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("image-bytes")), nil
		},
	}
}

var errStore = errors.New(`duplicate key value violates unique constraint "posts_pkey"`)
