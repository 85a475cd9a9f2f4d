package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/platform/breaker"
)

// Guard wraps a store so that FindAvailable and MarkAllocated run through a
// circuit breaker. Domain outcomes (no unit, lost race) count as successes;
// only infrastructure errors trip the breaker. While the breaker is open the
// calls fail fast with ErrStoreUnavailable.
func Guard(s Store, b *breaker.Breaker) Store {
	return &guardedStore{Store: s, units: &guardedUnits{UnitStore: s.Units(), b: b}}
}

// StoreHealthy classifies store errors for the breaker.
func StoreHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled)
}

type guardedStore struct {
	Store
	units *guardedUnits
}

func (g *guardedStore) Units() UnitStore {
	return g.units
}

type guardedUnits struct {
	UnitStore
	b *breaker.Breaker
}

func (g *guardedUnits) FindAvailable(ctx context.Context, c Criteria, now time.Time) (*Unit, error) {
	u, err := breaker.Call(g.b, func() (*Unit, error) {
		return g.UnitStore.FindAvailable(ctx, c, now)
	})
	return u, storeError(err)
}

func (g *guardedUnits) MarkAllocated(ctx context.Context, id uuid.UUID) (*Unit, error) {
	u, err := breaker.Call(g.b, func() (*Unit, error) {
		return g.UnitStore.MarkAllocated(ctx, id)
	})
	return u, storeError(err)
}

func storeError(err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return ErrStoreUnavailable
	}
	return err
}
