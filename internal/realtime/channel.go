// Package realtime is the presence broadcast channel: connections announce
// themselves under a key, and subscribers receive the aggregate state plus
// join and leave diffs.
package realtime

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("presence channel closed")

// Presence is one announced connection.
type Presence struct {
	Key      string    `json:"key"`
	UserID   int64     `json:"user_id"`
	OnlineAt time.Time `json:"online_at"`
}

// EventType is the kind of presence change.
type EventType string

const (
	EventSync  EventType = "sync"
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Event is one presence change. Presences holds the joined or departed
// entries; State is the aggregate channel state after the change, keyed by
// presence key.
type Event struct {
	Type      EventType
	Presences []Presence
	State     map[string]Presence
}

// Channel is a named presence channel.
type Channel interface {
	// Name returns the channel name.
	Name() string
	// Track announces p under p.Key, replacing an earlier announcement with the same key.
	Track(ctx context.Context, p Presence) error
	// Untrack withdraws the announcement under key. Unknown keys are ignored.
	Untrack(ctx context.Context, key string) error
	// Subscribe streams events until ctx ends or the channel drops the
	// subscriber, then closes the stream. The first event is always a sync.
	Subscribe(ctx context.Context) (<-chan Event, error)
	// Close untracks everything announced through this instance.
	Close() error
}

func cloneState(state map[string]Presence) map[string]Presence {
	out := make(map[string]Presence, len(state))
	maps.Copy(out, state)
	return out
}
