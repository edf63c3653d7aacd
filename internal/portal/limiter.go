package portal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostEntry stores a rate limiter and the last time it was used.
type hostEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// hostRateLimiter throttles outbound requests per portal host with
// TTL-based eviction of idle hosts.
type hostRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*hostEntry
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	maxSize   int
	lastSweep time.Time
}

func newHostRateLimiter(r rate.Limit, b int) *hostRateLimiter {
	return &hostRateLimiter{
		limiters:  make(map[string]*hostEntry),
		rate:      r,
		burst:     b,
		ttl:       5 * time.Minute,
		maxSize:   256,
		lastSweep: time.Now(),
	}
}

// wait blocks until a request to host is allowed or ctx is done.
// A nil limiter or a non-positive rate never blocks.
func (l *hostRateLimiter) wait(ctx context.Context, host string) error {
	if l == nil || l.rate <= 0 {
		return nil
	}
	return l.getLimiter(host).Wait(ctx)
}

func (l *hostRateLimiter) getLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > time.Minute {
		l.evictStale(now)
	}

	entry, exists := l.limiters[host]
	if exists {
		entry.lastSeen = now
		return entry.limiter
	}

	if len(l.limiters) >= l.maxSize {
		l.evictOldest()
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[host] = &hostEntry{
		limiter:  limiter,
		lastSeen: now,
	}
	return limiter
}

// evictStale removes hosts idle for longer than ttl. Must be called with mu held.
func (l *hostRateLimiter) evictStale(now time.Time) {
	for host, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.ttl {
			delete(l.limiters, host)
		}
	}
	l.lastSweep = now
}

// evictOldest removes the least recently used host. Must be called with mu held.
func (l *hostRateLimiter) evictOldest() {
	var oldestHost string
	var oldestTime time.Time

	for host, entry := range l.limiters {
		if oldestHost == "" || entry.lastSeen.Before(oldestTime) {
			oldestHost = host
			oldestTime = entry.lastSeen
		}
	}

	if oldestHost != "" {
		delete(l.limiters, oldestHost)
	}
}
