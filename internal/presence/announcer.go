package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reward-bot/internal/realtime"
)

// refreshInterval bounds how often an already-announced user is re-announced
// with a newer online time.
const refreshInterval = time.Minute

type announced struct {
	key         string
	lastSeen    time.Time
	announcedAt time.Time
}

// Announcer tracks this process's active users on the channel, one presence
// key per user, and withdraws users that go quiet.
type Announcer struct {
	channel     realtime.Channel
	idleTimeout time.Duration
	now         func() time.Time
	newKey      func() string

	mu    sync.Mutex
	users map[int64]*announced
}

// NewAnnouncer creates an Announcer. A nil now uses time.Now.
func NewAnnouncer(ch realtime.Channel, idleTimeout time.Duration, now func() time.Time) *Announcer {
	if now == nil {
		now = time.Now
	}
	return &Announcer{
		channel:     ch,
		idleTimeout: idleTimeout,
		now:         now,
		newKey:      uuid.NewString,
		users:       make(map[int64]*announced),
	}
}

// Touch records activity for userID, announcing it if it is not on the channel
// yet or its announcement is older than the refresh interval.
func (a *Announcer) Touch(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}
	now := a.now()

	a.mu.Lock()
	u, ok := a.users[userID]
	if !ok {
		u = &announced{key: a.newKey()}
		a.users[userID] = u
	}
	u.lastSeen = now
	if ok && now.Sub(u.announcedAt) < refreshInterval {
		a.mu.Unlock()
		return nil
	}
	u.announcedAt = now
	key := u.key
	a.mu.Unlock()

	if err := a.channel.Track(ctx, realtime.Presence{Key: key, UserID: userID, OnlineAt: now}); err != nil {
		// Retry on the next touch.
		a.mu.Lock()
		u.announcedAt = time.Time{}
		a.mu.Unlock()
		return err
	}
	return nil
}

// Leave withdraws userID from the channel.
func (a *Announcer) Leave(ctx context.Context, userID int64) error {
	a.mu.Lock()
	u, ok := a.users[userID]
	delete(a.users, userID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.channel.Untrack(ctx, u.key)
}

// Sweep withdraws users idle for longer than the idle timeout and returns their ids.
func (a *Announcer) Sweep(ctx context.Context) []int64 {
	now := a.now()

	a.mu.Lock()
	var idle []int64
	keys := make(map[int64]string)
	for id, u := range a.users {
		if now.Sub(u.lastSeen) > a.idleTimeout {
			idle = append(idle, id)
			keys[id] = u.key
			delete(a.users, id)
		}
	}
	a.mu.Unlock()

	for id, key := range keys {
		if err := a.channel.Untrack(ctx, key); err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("Failed to withdraw idle presence")
		}
	}
	return idle
}

// Run sweeps idle users until ctx ends, calling onIdle for each withdrawn user.
func (a *Announcer) Run(ctx context.Context, onIdle func(userID int64)) {
	interval := a.idleTimeout / 2
	if interval <= 0 {
		interval = refreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range a.Sweep(ctx) {
				if onIdle != nil {
					onIdle(id)
				}
			}
		}
	}
}

// Announced returns the number of users this process has on the channel.
func (a *Announcer) Announced() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}
