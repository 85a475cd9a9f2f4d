// Package idempotency stores the responses of allocation requests that carried
// a client-supplied key, so retries replay the original response instead of
// allocating again.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Entry is one stored response. (Identity, Key) is unique.
type Entry struct {
	Identity   string
	Key        string
	Path       string
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
}

// ErrDuplicate is returned by Put when an entry for (identity, key) exists.
var ErrDuplicate = errors.New("idempotency entry already exists")

// Ledger persists entries. Get returns (nil, nil) when nothing is stored.
// Entries are never updated in place.
type Ledger interface {
	Get(ctx context.Context, identity, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
}

// Pruner is implemented by ledgers that support administrative retention.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

func scope(identity, key string) string {
	return identity + "\x00" + key
}
