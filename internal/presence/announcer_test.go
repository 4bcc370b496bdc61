package presence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-bot/internal/realtime"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestAnnouncer(ch realtime.Channel, c *clock) *Announcer {
	a := NewAnnouncer(ch, 5*time.Minute, c.Now)
	n := 0
	a.newKey = func() string {
		n++
		return fmt.Sprintf("key-%d", n)
	}
	return a
}

func TestAnnouncer_TouchAnnouncesOnce(t *testing.T) {
	ch := realtime.NewMemoryChannel("test")
	defer ch.Close()
	c := &clock{now: t0}
	a := newTestAnnouncer(ch, c)
	ctx := context.Background()

	events, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	<-events

	require.NoError(t, a.Touch(ctx, 1))
	evt := <-events
	assert.Equal(t, realtime.EventJoin, evt.Type)
	assert.Equal(t, "key-1", evt.Presences[0].Key)

	// Within the refresh interval nothing is re-announced.
	c.now = c.now.Add(30 * time.Second)
	require.NoError(t, a.Touch(ctx, 1))
	assert.Empty(t, events)

	// Past it, the same key is re-announced with the newer time.
	c.now = c.now.Add(time.Minute)
	require.NoError(t, a.Touch(ctx, 1))
	evt = <-events
	assert.Equal(t, "key-1", evt.Presences[0].Key)
	assert.True(t, evt.Presences[0].OnlineAt.Equal(c.now))
	assert.Len(t, evt.State, 1)

	require.NoError(t, a.Touch(ctx, 0))
	assert.Equal(t, 1, a.Announced())
}

func TestAnnouncer_SweepWithdrawsIdleUsers(t *testing.T) {
	ch := realtime.NewMemoryChannel("test")
	defer ch.Close()
	c := &clock{now: t0}
	a := newTestAnnouncer(ch, c)
	tr := NewTracker(ch)
	ctx := context.Background()

	events, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	tr.Apply(<-events)

	require.NoError(t, a.Touch(ctx, 1))
	tr.Apply(<-events)
	c.now = c.now.Add(4 * time.Minute)
	require.NoError(t, a.Touch(ctx, 2))
	tr.Apply(<-events)

	c.now = c.now.Add(2 * time.Minute)
	idle := a.Sweep(ctx)
	assert.Equal(t, []int64{1}, idle)
	tr.Apply(<-events)

	assert.False(t, tr.IsOnline(1))
	assert.True(t, tr.IsOnline(2))
	at, ok := tr.LastActive(1)
	require.True(t, ok)
	assert.True(t, at.Equal(t0))
}

func TestAnnouncer_Leave(t *testing.T) {
	ch := realtime.NewMemoryChannel("test")
	defer ch.Close()
	a := newTestAnnouncer(ch, &clock{now: t0})
	ctx := context.Background()

	require.NoError(t, a.Touch(ctx, 1))
	require.NoError(t, a.Leave(ctx, 1))
	require.NoError(t, a.Leave(ctx, 1))
	assert.Equal(t, 0, a.Announced())

	events, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	assert.Empty(t, (<-events).State)
}

func TestAnnouncer_TrackFailureRetries(t *testing.T) {
	ch := realtime.NewMemoryChannel("test")
	c := &clock{now: t0}
	a := newTestAnnouncer(ch, c)
	ctx := context.Background()

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, a.Touch(ctx, 1), realtime.ErrClosed)
	// The failed announcement is retried right away rather than after the refresh interval.
	c.now = c.now.Add(time.Second)
	assert.ErrorIs(t, a.Touch(ctx, 1), realtime.ErrClosed)
}
