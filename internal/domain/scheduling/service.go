package scheduling

import (
	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
)

// NewEngine builds the appointment engine over store.
func NewEngine(store allocation.Store, requesters identity.Resolver, ledger idempotency.Ledger, opts ...allocation.EngineOption) *allocation.Engine {
	return allocation.NewEngine(Kind(), store, requesters, ledger, opts...)
}

// BookRequest is the body of POST /appointments. Without a slot the
// practitioner's earliest free future slot is booked.
type BookRequest struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	SlotID         *uuid.UUID `json:"slot_id,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

func (b BookRequest) Request() allocation.Request {
	return allocation.Request{
		Criteria:    allocation.Criteria{OwnerID: b.PractitionerID, UnitID: b.SlotID},
		RequesterID: b.PatientID,
		Notes:       b.Notes,
	}
}
