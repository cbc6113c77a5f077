// Package wall is the client-side core of the wall: the feed of recent posts,
// the optimistic submission controller that writes into it, and post
// rendering. Backends are reached only through the ports in ports.go.
package wall

import "time"

// Status 帖子在本地视图中的状态
type Status int

const (
	// StatusCommitted is the zero value: every row decoded from the store is committed.
	StatusCommitted Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TempPrefix prefixes placeholder ids. Only used to build ids; status is
// always read from Post.Status.
const TempPrefix = "temp-"

// Post is a wall entry, either an authoritative row or a local placeholder.
type Post struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	PhotoURL    *string   `json:"photo_url"`
	ClientToken string    `json:"client_token,omitempty"`

	Status Status `json:"-"`
	Error  string `json:"-"`
}

func (p Post) Pending() bool { return p.Status == StatusPending }

func (p Post) Failed() bool { return p.Status == StatusFailed }

// Local reports whether the post exists only in this client's view.
func (p Post) Local() bool { return p.Status != StatusCommitted }

// NewPost is the insert payload; the store assigns id and created_at.
type NewPost struct {
	Author      string  `json:"author"`
	Content     string  `json:"content"`
	PhotoURL    *string `json:"photo_url"`
	ClientToken string  `json:"client_token,omitempty"`
}
