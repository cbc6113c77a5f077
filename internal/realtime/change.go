// Package realtime delivers row-level change notifications for the posts
// table: a transactional outbox drained by Relay, published through a Broker
// and fanned out to subscribers.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/d60-Lab/wall/internal/model"
)

const (
	SchemaPublic = "public"
	TablePosts   = "posts"

	// ChangeResync tells subscribers that changes may have been missed.
	ChangeResync = "RESYNC"
)

// Change is one row-level change event as sent to subscribers.
type Change struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// ChangeFromOutbox converts a claimed outbox row into a Change.
func ChangeFromOutbox(c *model.PostChange) Change {
	ch := Change{
		Type:            c.Event,
		Schema:          SchemaPublic,
		Table:           TablePosts,
		CommitTimestamp: c.CreatedAt,
	}
	if c.Record != "" {
		ch.Record = json.RawMessage(c.Record)
	}
	if c.OldRecord != "" {
		ch.OldRecord = json.RawMessage(c.OldRecord)
	}
	return ch
}

func resync() Change {
	return Change{Type: ChangeResync, Schema: SchemaPublic, Table: TablePosts, CommitTimestamp: time.Now().UTC()}
}
