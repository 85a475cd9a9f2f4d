package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// CachedResolver memoizes positive lookups. Misses are not cached so a newly
// registered requester resolves immediately.
type CachedResolver struct {
	next  Resolver
	store *cache.Cache
}

func NewCachedResolver(next Resolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		store: cache.New(ttl, 2*ttl),
	}
}

func (r *CachedResolver) GetRequester(ctx context.Context, role Role, id uuid.UUID) (*Requester, error) {
	key := string(role) + ":" + id.String()
	if v, ok := r.store.Get(key); ok {
		return v.(*Requester), nil
	}

	req, err := r.next.GetRequester(ctx, role, id)
	if err != nil || req == nil {
		return req, err
	}
	r.store.SetDefault(key, req)
	return req, nil
}
