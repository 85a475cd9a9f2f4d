package idempotency

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL bounds how long the in-memory ledger keeps entries.
const DefaultTTL = 24 * time.Hour

// MemoryLedger keeps entries in process memory with TTL eviction.
type MemoryLedger struct {
	entries *cache.Cache
	now     func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		entries: cache.New(ttl, time.Hour),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Get(_ context.Context, identity, key string) (*Entry, error) {
	v, ok := l.entries.Get(scope(identity, key))
	if !ok {
		return nil, nil
	}
	e := *v.(*Entry)
	return &e, nil
}

// Put relies on cache.Add, which fails when the key is present, so two
// concurrent writers for the same key see exactly one success.
func (l *MemoryLedger) Put(_ context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	stored := *e
	stored.Body = append([]byte(nil), e.Body...)
	if err := l.entries.Add(scope(e.Identity, e.Key), &stored, cache.DefaultExpiration); err != nil {
		return ErrDuplicate
	}
	return nil
}

func (l *MemoryLedger) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for k, item := range l.entries.Items() {
		if e, ok := item.Object.(*Entry); ok && e.CreatedAt.Before(olderThan) {
			l.entries.Delete(k)
			n++
		}
	}
	return n, nil
}
