package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UnitStore holds resource units and applies the allocation flag flip.
type UnitStore interface {
	// FindAvailable returns the first active, unallocated unit matching c,
	// or ErrNotFound. Safe to call concurrently inside transactions: two
	// callers never receive the same unit.
	FindAvailable(ctx context.Context, c Criteria, now time.Time) (*Unit, error)
	Get(ctx context.Context, id uuid.UUID) (*Unit, error)
	// MarkAllocated flips the unit to allocated, or fails with ErrConflict
	// when it is no longer available.
	MarkAllocated(ctx context.Context, id uuid.UUID) (*Unit, error)
	// Release flips the unit back. Fails with ErrConflict while a live
	// record still holds it.
	Release(ctx context.Context, id uuid.UUID) (*Unit, error)
	// Create inserts u unless a unit with the same identity (owner and time
	// bounds, or owner and label) exists, in which case that unit is returned
	// with created=false.
	Create(ctx context.Context, u *Unit) (unit *Unit, created bool, err error)
	// EnsureUnits creates the absent units and returns how many it created.
	EnsureUnits(ctx context.Context, units []*Unit) (int, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*Unit, error)
	List(ctx context.Context, f UnitFilter) ([]*Unit, int, error)

	OwnerEligible(ctx context.Context, ownerID uuid.UUID) (bool, error)
	HorizonOwners(ctx context.Context) ([]uuid.UUID, error)
}

// RecordStore holds allocation records.
type RecordStore interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	// GetForUpdate locks the record for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error)
	UpdateStatus(ctx context.Context, r *Record) error
	// CompleteExpired moves every active record whose unit ended before now
	// to completed and returns the records it changed.
	CompleteExpired(ctx context.Context, now time.Time, actor string) ([]*Record, error)
	// ListStartingBetween returns active records whose unit starts in [from, to].
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]*Allocation, error)
	List(ctx context.Context, f RecordFilter) ([]*Record, int, error)
}

// Store groups the unit and record stores of one kind with a transaction
// boundary. Calls made with the context passed to fn join the transaction.
type Store interface {
	Units() UnitStore
	Records() RecordStore
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
