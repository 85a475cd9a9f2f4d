package allocation

import (
	"time"

	"github.com/google/uuid"
)

// Unit is one allocatable resource: a slot, a bed or an equipment window.
// Binary units have no time bounds.
type Unit struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   uuid.UUID  `json:"owner_id"`
	Label     string     `json:"label,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Allocated bool       `json:"allocated"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (u *Unit) TimeBounded() bool {
	return u.StartTime != nil && u.EndTime != nil
}

// Available reports whether the unit can be claimed right now.
func (u *Unit) Available() bool {
	return u.Active && !u.Allocated
}

// Overlaps reports whether two time-bounded units share any instant.
func (u *Unit) Overlaps(o *Unit) bool {
	if !u.TimeBounded() || !o.TimeBounded() {
		return false
	}
	return u.StartTime.Before(*o.EndTime) && o.StartTime.Before(*u.EndTime)
}

// Record is the durable result of a successful allocation. UnitID is nil
// only for waitlisted records of kinds that allow it.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	RequesterID uuid.UUID  `json:"requester_id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	UnitID      *uuid.UUID `json:"unit_id,omitempty"`
	Status      Status     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	// Attributes holds kind-specific fields such as an equipment
	// reservation's department and purpose.
	Attributes   map[string]string `json:"attributes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	TerminatedAt *time.Time        `json:"terminated_at,omitempty"`
	UpdatedBy    string            `json:"updated_by,omitempty"`
}

// Criteria selects the unit to allocate. UnitID pins an explicit unit;
// Start/End request an on-demand window for kinds that support it;
// otherwise the store picks the first available unit of the owner.
type Criteria struct {
	OwnerID uuid.UUID
	UnitID  *uuid.UUID
	Start   *time.Time
	End     *time.Time
}

// Request is one allocation attempt. Actor scopes the idempotency key.
type Request struct {
	Criteria       Criteria
	RequesterID    uuid.UUID
	Actor          string
	IdempotencyKey string
	Path           string
	Notes          string
	Attributes     map[string]string
}

// Outcome is what the caller returns. Body is the serialized response and is
// identical for the original call and every replay. Record is nil on replay.
type Outcome struct {
	Record     *Record
	Unit       *Unit
	StatusCode int
	Body       []byte
	Replayed   bool
}

// Allocation pairs a record with the unit it holds. Unit is nil for
// waitlisted records.
type Allocation struct {
	Record *Record
	Unit   *Unit
}

type UnitFilter struct {
	OwnerID         uuid.UUID
	AvailableOnly   bool
	IncludeInactive bool
	From            *time.Time
	To              *time.Time
	Limit           int
	Offset          int
}

type RecordFilter struct {
	RequesterID *uuid.UUID
	OwnerID     *uuid.UUID
	Status      *Status
	Limit       int
	Offset      int
}
