package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalTokenBucket limits per key inside one process. It is the fallback
// when no redis is configured, so replicas do not share budgets.
type LocalTokenBucket struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalTokenBucket allows capacity requests in a burst, refilled at
// refillPerSec. Keys unseen for idle are forgotten.
func NewLocalTokenBucket(capacity int, refillPerSec float64, idle time.Duration) *LocalTokenBucket {
	if idle <= 0 {
		idle = 3 * time.Minute
	}
	return &LocalTokenBucket{
		limit:    rate.Limit(refillPerSec),
		burst:    capacity,
		idle:     idle,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (l *LocalTokenBucket) Allow(_ context.Context, key string) (bool, int, error) {
	if l == nil || l.burst <= 0 || l.limit <= 0 {
		return true, 0, nil
	}
	now := l.now()
	lim := l.visitor(key, now)

	ok := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return ok, remaining, nil
}

func (l *LocalTokenBucket) visitor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.idle {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Len reports how many keys are currently tracked.
func (l *LocalTokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
