package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key, usually the remote IP.
type Limiter struct {
	limiters map[string]*clientLimiter
	mutex    sync.RWMutex
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	reqPerSec := float64(requestsPerMinute) / 60.0

	return &Limiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(reqPerSec),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow takes a token for key. When the bucket is empty it reports how
// long the client should wait, rounded up to whole seconds for Retry-After.
func (r *Limiter) Allow(key string) (bool, time.Duration) {
	cl := r.get(key)
	now := r.now()

	res := cl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}

	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)

	return false, time.Duration(math.Ceil(delay.Seconds())) * time.Second
}

func (r *Limiter) get(key string) *clientLimiter {
	now := r.now()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	cl, exists := r.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = cl
	}
	cl.lastSeen = now

	return cl
}
