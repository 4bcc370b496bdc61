package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
	"github.com/rs/zerolog/log"
)

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Redis 7 does not know the maint_notifications handshake and logs a warning for it.
	opts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// defaultLiveness outlives a few of the announcer's one-minute re-announces.
const defaultLiveness = 3 * time.Minute

// pruneScript drops every presence whose liveness deadline (unix ms) is at or
// before ARGV[1] and returns the removed entries as key, payload pairs.
var pruneScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local removed = {}
for _, key in ipairs(expired) do
	local v = redis.call('HGET', KEYS[1], key)
	redis.call('HDEL', KEYS[1], key)
	redis.call('ZREM', KEYS[2], key)
	if v then
		removed[#removed + 1] = key
		removed[#removed + 1] = v
	end
end
return removed
`)

type wireEvent struct {
	Type      EventType  `json:"type"`
	Presences []Presence `json:"presences"`
}

// RedisChannel keeps the aggregate state in the hash presence:<name> and
// publishes join and leave diffs on presence:<name>:events, so every process
// sharing the Redis sees the same online set.
//
// Each entry also carries a liveness deadline in the sorted set
// presence:<name>:alive. Track renews it; once it passes, any process reading
// the state removes the entry and publishes the leave, so presences of a
// process that died without Close do not linger.
type RedisChannel struct {
	client    *redis.Client
	name      string
	stateKey  string
	aliveKey  string
	eventsKey string
	liveness  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	owned  map[string]struct{}
	closed bool
}

// RedisOption configures a RedisChannel.
type RedisOption func(*RedisChannel)

// WithLiveness sets how long a presence survives without being tracked again.
func WithLiveness(d time.Duration) RedisOption {
	return func(c *RedisChannel) {
		if d > 0 {
			c.liveness = d
		}
	}
}

// NewRedisChannel creates a channel on client. The client stays owned by the caller.
func NewRedisChannel(client *redis.Client, name string, opts ...RedisOption) *RedisChannel {
	c := &RedisChannel{
		client:    client,
		name:      name,
		stateKey:  fmt.Sprintf("presence:%s", name),
		aliveKey:  fmt.Sprintf("presence:%s:alive", name),
		eventsKey: fmt.Sprintf("presence:%s:events", name),
		liveness:  defaultLiveness,
		now:       time.Now,
		owned:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisChannel) Name() string { return c.name }

func (c *RedisChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *RedisChannel) Track(ctx context.Context, p Presence) error {
	if c.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}
	evt, err := json.Marshal(wireEvent{Type: EventJoin, Presences: []Presence{p}})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	deadline := c.now().Add(c.liveness)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.stateKey, p.Key, payload)
		pipe.ZAdd(ctx, c.aliveKey, redis.Z{Score: float64(deadline.UnixMilli()), Member: p.Key})
		pipe.Publish(ctx, c.eventsKey, evt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}

	c.mu.Lock()
	c.owned[p.Key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *RedisChannel) Untrack(ctx context.Context, key string) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.untrack(ctx, key)
}

func (c *RedisChannel) untrack(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.owned, key)
	c.mu.Unlock()

	raw, err := c.client.HGet(ctx, c.stateKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read presence: %w", err)
	}

	var hdel *redis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hdel = pipe.HDel(ctx, c.stateKey, key)
		pipe.ZRem(ctx, c.aliveKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}
	if hdel.Val() == 0 {
		// Someone else withdrew it first and published the leave.
		return nil
	}

	var p Presence
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		p = Presence{Key: key}
	}
	evt, err := json.Marshal(wireEvent{Type: EventLeave, Presences: []Presence{p}})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, c.eventsKey, evt).Err(); err != nil {
		return fmt.Errorf("failed to publish leave: %w", err)
	}
	return nil
}

// prune removes presences past their liveness deadline and publishes one
// leave for all of them. It returns what was removed.
func (c *RedisChannel) prune(ctx context.Context) ([]Presence, error) {
	pairs, err := pruneScript.Run(ctx, c.client, []string{c.stateKey, c.aliveKey}, c.now().UnixMilli()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to prune presences: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	expired := make([]Presence, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		var p Presence
		if err := json.Unmarshal([]byte(pairs[i+1]), &p); err != nil {
			// Still announce the leave under its key.
			p = Presence{}
		}
		p.Key = pairs[i]
		expired = append(expired, p)
	}
	log.Info().Str("channel", c.name).Int("count", len(expired)).Msg("Pruned expired presences")

	evt, err := json.Marshal(wireEvent{Type: EventLeave, Presences: expired})
	if err != nil {
		return expired, fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, c.eventsKey, evt).Err(); err != nil {
		return expired, fmt.Errorf("failed to publish leave: %w", err)
	}
	return expired, nil
}

func (c *RedisChannel) state(ctx context.Context) (map[string]Presence, error) {
	if _, err := c.prune(ctx); err != nil {
		log.Warn().Err(err).Str("channel", c.name).Msg("Presence prune failed")
	}

	raw, err := c.client.HGetAll(ctx, c.stateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence state: %w", err)
	}
	state := make(map[string]Presence, len(raw))
	for key, v := range raw {
		var p Presence
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			log.Warn().Err(err).Str("channel", c.name).Str("key", key).Msg("Skipping malformed presence entry")
			continue
		}
		p.Key = key
		state[key] = p
	}
	return state, nil
}

func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan Event, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	pubsub := c.client.Subscribe(ctx, c.eventsKey)
	// Wait for the subscription before reading the state so no diff falls in between.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.eventsKey, err)
	}

	state, err := c.state(ctx)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Event, subscriberBuffer)
	out <- Event{Type: EventSync, State: state}
	go c.forward(ctx, pubsub, out)
	return out, nil
}

func (c *RedisChannel) forward(ctx context.Context, pubsub *redis.PubSub, out chan<- Event) {
	defer close(out)
	defer pubsub.Close()

	ticker := time.NewTicker(c.liveness / 2)
	defer ticker.Stop()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Leaves published here come back through msgs.
			if _, err := c.prune(ctx); err != nil {
				log.Warn().Err(err).Str("channel", c.name).Msg("Presence prune failed")
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				log.Warn().Err(err).Str("channel", c.name).Msg("Ignoring malformed presence event")
				continue
			}
			state, err := c.state(ctx)
			if err != nil {
				log.Error().Err(err).Str("channel", c.name).Msg("Presence state refresh failed, dropping subscriber")
				return
			}
			select {
			case out <- Event{Type: we.Type, Presences: we.Presences, State: state}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close withdraws the presences announced through this channel. The Redis client is left open.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	keys := make([]string, 0, len(c.owned))
	for k := range c.owned {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, k := range keys {
		if err := c.untrack(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
