package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 64

type subscriber struct {
	events chan Event
}

// MemoryChannel is an in-process Channel for single-instance deployments and tests.
type MemoryChannel struct {
	name string

	mu     sync.Mutex
	state  map[string]Presence
	subs   map[*subscriber]struct{}
	closed bool
}

// NewMemoryChannel creates an empty in-process channel.
func NewMemoryChannel(name string) *MemoryChannel {
	return &MemoryChannel{
		name:  name,
		state: make(map[string]Presence),
		subs:  make(map[*subscriber]struct{}),
	}
}

func (c *MemoryChannel) Name() string { return c.name }

func (c *MemoryChannel) Track(_ context.Context, p Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.state[p.Key] = p
	c.broadcastLocked(EventJoin, []Presence{p})
	return nil
}

func (c *MemoryChannel) Untrack(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	p, ok := c.state[key]
	if !ok {
		return nil
	}
	delete(c.state, key)
	c.broadcastLocked(EventLeave, []Presence{p})
	return nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{events: make(chan Event, subscriberBuffer)}
	sub.events <- Event{Type: EventSync, State: cloneState(c.state)}
	c.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		c.drop(sub)
	}()
	return sub.events, nil
}

// Close withdraws every presence and closes all subscriber streams.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if len(c.state) > 0 {
		left := make([]Presence, 0, len(c.state))
		for _, p := range c.state {
			left = append(left, p)
		}
		clear(c.state)
		c.broadcastLocked(EventLeave, left)
	}
	for sub := range c.subs {
		delete(c.subs, sub)
		close(sub.events)
	}
	c.closed = true
	return nil
}

func (c *MemoryChannel) drop(sub *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		close(sub.events)
	}
}

// broadcastLocked fans the event out. A subscriber whose buffer is full is
// dropped; it resubscribes and gets a fresh sync.
func (c *MemoryChannel) broadcastLocked(typ EventType, presences []Presence) {
	for sub := range c.subs {
		evt := Event{Type: typ, Presences: presences, State: cloneState(c.state)}
		select {
		case sub.events <- evt:
		default:
			delete(c.subs, sub)
			close(sub.events)
			log.Warn().Str("channel", c.name).Msg("Dropped slow presence subscriber")
		}
	}
}
