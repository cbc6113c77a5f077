package wall

import (
	"time"

	"github.com/dustin/go-humanize"
)

// TimestampLayout 本地化时间格式
const TimestampLayout = "Jan 2, 2006, 3:04:05 PM"

// PostView is a post prepared for display.
type PostView struct {
	ID        string
	Author    string
	Timestamp string
	Relative  string
	Content   string
	PhotoURL  string
	Pending   bool
	Failed    bool
	ErrorNote string
}

// Render formats p for display in loc (time.Local when nil).
func Render(p Post, loc *time.Location) PostView {
	return RenderAt(p, loc, time.Now())
}

func RenderAt(p Post, loc *time.Location, now time.Time) PostView {
	if loc == nil {
		loc = time.Local
	}
	v := PostView{
		ID:        p.ID,
		Author:    p.Author,
		Timestamp: p.CreatedAt.In(loc).Format(TimestampLayout),
		Relative:  humanize.RelTime(p.CreatedAt, now, "ago", "from now"),
		Content:   p.Content,
		Pending:   p.Pending(),
		Failed:    p.Failed(),
	}
	if p.PhotoURL != nil {
		v.PhotoURL = *p.PhotoURL
	}
	if p.Failed() {
		v.ErrorNote = "Failed to post: " + p.Error
	}
	return v
}
