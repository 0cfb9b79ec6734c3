package ratelimit

import "time"

// CleanupStale drops buckets idle for longer than idleTimeout and returns
// how many were removed.
func (r *Limiter) CleanupStale(idleTimeout time.Duration) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	count := 0

	for key, limiter := range r.limiters {
		if now.Sub(limiter.lastSeen) > idleTimeout {
			delete(r.limiters, key)
			count++
		}
	}

	return count
}

func (r *Limiter) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.limiters)
}
