// Package realtime delivers row-level change events to connected sessions.
//
// Producers publish a ChangeEvent on a topic derived from the row's owner
// column (for example "notifications:user_id=<id>"). Subscribers receive the
// events published while they are subscribed and nothing else: there is no
// replay, and a subscriber whose buffer is full loses the event.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent mirrors one committed row change.
type ChangeEvent struct {
	Table           string          `json:"table"`
	Type            EventType       `json:"eventType"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewChangeEvent marshals the row images. Either image may be nil.
func NewChangeEvent(table string, typ EventType, newRow, oldRow any, at time.Time) (ChangeEvent, error) {
	ev := ChangeEvent{Table: table, Type: typ, CommitTimestamp: at.UTC()}
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal new row: %w", err)
		}
		ev.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal old row: %w", err)
		}
		ev.Old = b
	}
	return ev, nil
}

// Topic builds the equality-filter topic name "<table>:<column>=<value>".
func Topic(table, column string, value uuid.UUID) string {
	return fmt.Sprintf("%s:%s=%s", table, column, value)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev ChangeEvent) error
}

// Feed publishes and subscribes. Hub is a single-process Feed; RedisFeed
// spans processes.
type Feed interface {
	Publisher
	Subscribe(topics ...string) *Subscription
}
