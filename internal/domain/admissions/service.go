package admissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
)

func NewEngine(store allocation.Store, requesters identity.Resolver, ledger idempotency.Ledger, opts ...allocation.EngineOption) *allocation.Engine {
	return allocation.NewEngine(Kind(), store, requesters, ledger, opts...)
}

// AdmitRequest is the body of POST /admissions. Without a bed the ward's
// first free bed is taken, or the patient is waitlisted.
type AdmitRequest struct {
	PatientID uuid.UUID  `json:"patient_id"`
	WardID    uuid.UUID  `json:"ward_id"`
	BedID     *uuid.UUID `json:"bed_id,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

func (a AdmitRequest) Request() allocation.Request {
	return allocation.Request{
		Criteria:    allocation.Criteria{OwnerID: a.WardID, UnitID: a.BedID},
		RequesterID: a.PatientID,
		Notes:       a.Notes,
	}
}

type WardService struct {
	wards WardRepository
}

func NewWardService(wards WardRepository) *WardService {
	return &WardService{wards: wards}
}

func (s *WardService) CreateWard(ctx context.Context, w *Ward) error {
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", allocation.ErrInvalidRequest)
	}
	w.Active = true
	return s.wards.Create(ctx, w)
}

func (s *WardService) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.wards.GetByID(ctx, id)
}

func (s *WardService) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	return s.wards.List(ctx, limit, offset)
}
