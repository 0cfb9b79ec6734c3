package cache

import (
	"time"
)

// Entry is a last-known-good payload for one endpoint and argument set.
type Entry struct {
	Key       string
	Payload   []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

func NewEntry(key string, payload []byte, ttl time.Duration, now time.Time) *Entry {
	e := &Entry{
		Key:      key,
		Payload:  payload,
		StoredAt: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// IsExpired reports false for entries stored without a TTL.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
