// Package ratelimit provides per-key token bucket limiters.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const gcInterval = 30 * time.Second

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// Keyed hands out one token bucket per key and forgets keys idle for longer than ttl.
type Keyed struct {
	mu    sync.Mutex
	m     map[string]*keyLimiter
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing perSecond events per key with the given burst.
// Call Start to enable idle key collection and Stop to end it.
func New(perSecond float64, burst int, ttl time.Duration) *Keyed {
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		m:     make(map[string]*keyLimiter),
		limit: rate.Limit(perSecond),
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
}

// Allow reports whether one event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	kl, ok := k.m[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(k.limit, k.burst)}
		k.m[key] = kl
	}
	kl.seen = k.now()
	k.mu.Unlock()

	return kl.lim.AllowN(kl.seen, 1)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

// Collect drops keys idle for longer than ttl.
func (k *Keyed) Collect() {
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, kl := range k.m {
		if now.Sub(kl.seen) > k.ttl {
			delete(k.m, key)
		}
	}
}

// Start runs idle key collection in the background until Stop.
func (k *Keyed) Start() {
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-k.stop:
				return
			case <-ticker.C:
				k.Collect()
			}
		}
	}()
}

// Stop ends the collector goroutine. Safe to call more than once.
func (k *Keyed) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
}
