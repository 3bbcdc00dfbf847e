package tracking

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// walkLimiters hands out one token bucket per walk.
type walkLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// newWalkLimiters returns nil when perSecond <= 0, which disables limiting.
func newWalkLimiters(perSecond float64, burst int, idle time.Duration) *walkLimiters {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &walkLimiters{
		limiters: map[string]*limiterEntry{},
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

func (l *walkLimiters) Allow(walkID string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	e, ok := l.limiters[walkID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[walkID] = e
	}
	e.lastAccess = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *walkLimiters) Forget(walkID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.limiters, walkID)
	l.mu.Unlock()
}

// Sweep drops buckets for walks that have gone quiet.
func (l *walkLimiters) Sweep() {
	if l == nil {
		return
	}
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}
