// Package presence keeps a process-local view of who is online, folded from
// the realtime presence channel, and announces this process's active users on it.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bot/internal/metrics"
	"reward-bot/internal/realtime"
)

const resubscribeDelay = 2 * time.Second

// Tracker folds presence events into an online set and a last-seen map.
// A user that leaves keeps its last-seen time; the online set does not.
type Tracker struct {
	channel realtime.Channel

	mu         sync.RWMutex
	online     map[int64]struct{}
	lastActive map[int64]time.Time
	keys       int
}

// NewTracker creates an empty tracker for ch.
func NewTracker(ch realtime.Channel) *Tracker {
	return &Tracker{
		channel:    ch,
		online:     make(map[int64]struct{}),
		lastActive: make(map[int64]time.Time),
	}
}

// Run subscribes to the channel and folds events until ctx ends. A dropped
// subscription is restarted; the fresh sync rebuilds the online set.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		events, err := t.channel.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("channel", t.channel.Name()).Msg("Presence subscribe failed")
		} else {
			for evt := range events {
				t.Apply(evt)
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("channel", t.channel.Name()).Msg("Presence subscription ended, resubscribing")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

// Apply folds one event into the tracker.
func (t *Tracker) Apply(evt realtime.Event) {
	t.mu.Lock()
	switch evt.Type {
	case realtime.EventSync, realtime.EventJoin:
		t.recomputeLocked(evt.State)
	case realtime.EventLeave:
		for _, p := range evt.Presences {
			delete(t.online, p.UserID)
			if _, ok := t.lastActive[p.UserID]; !ok {
				t.lastActive[p.UserID] = p.OnlineAt
			}
		}
		t.keys = len(evt.State)
	}
	keys := t.keys
	t.mu.Unlock()

	metrics.PresenceOnline.Set(float64(keys))
}

func (t *Tracker) recomputeLocked(state map[string]realtime.Presence) {
	latest := make(map[int64]time.Time, len(state))
	for _, p := range state {
		if cur, ok := latest[p.UserID]; !ok || p.OnlineAt.After(cur) {
			latest[p.UserID] = p.OnlineAt
		}
	}

	clear(t.online)
	for id, at := range latest {
		t.online[id] = struct{}{}
		t.lastActive[id] = at
	}
	t.keys = len(state)
}

// IsOnline reports whether the user is currently announced.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// LastActive returns the user's last announced online time, whether or not
// the user is still online.
func (t *Tracker) LastActive(userID int64) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.lastActive[userID]
	return at, ok
}

// OnlineUserIDs returns the distinct online user ids in ascending order.
func (t *Tracker) OnlineUserIDs() []int64 {
	t.mu.RLock()
	ids := make([]int64, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// OnlineCount returns the number of presence keys on the channel. A user with
// several connections is counted once per connection.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keys
}
