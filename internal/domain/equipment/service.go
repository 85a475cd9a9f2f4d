package equipment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
)

func NewEngine(store allocation.Store, requesters identity.Resolver, ledger idempotency.Ledger, opts ...allocation.EngineOption) *allocation.Engine {
	return allocation.NewEngine(Kind(), store, requesters, ledger, opts...)
}

// ReserveRequest is the body of POST /equipment-reservations. It names
// either a registered window or a start and end for an on-demand window.
type ReserveRequest struct {
	RequesterID  uuid.UUID  `json:"requester_id"`
	EquipmentID  uuid.UUID  `json:"equipment_id"`
	WindowID     *uuid.UUID `json:"window_id,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	Purpose      string     `json:"purpose,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

func (r ReserveRequest) Request() allocation.Request {
	req := allocation.Request{
		Criteria: allocation.Criteria{
			OwnerID: r.EquipmentID,
			UnitID:  r.WindowID,
			Start:   r.Start,
			End:     r.End,
		},
		RequesterID: r.RequesterID,
		Notes:       r.Notes,
		Attributes:  map[string]string{},
	}
	if r.DepartmentID != nil {
		req.Attributes[attrDepartment] = r.DepartmentID.String()
	}
	if p := strings.TrimSpace(r.Purpose); p != "" {
		req.Attributes[attrPurpose] = p
	}
	return req
}

type InventoryService struct {
	items Repository
}

func NewInventoryService(items Repository) *InventoryService {
	return &InventoryService{items: items}
}

func (s *InventoryService) Register(ctx context.Context, e *Equipment) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", allocation.ErrInvalidRequest)
	}
	if e.Status == "" {
		e.Status = StatusAvailable
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("%w: invalid status %q", allocation.ErrInvalidRequest, e.Status)
	}
	e.Active = true
	return s.items.Create(ctx, e)
}

func (s *InventoryService) Get(ctx context.Context, id uuid.UUID) (*Equipment, error) {
	return s.items.GetByID(ctx, id)
}

func (s *InventoryService) List(ctx context.Context, limit, offset int) ([]*Equipment, int, error) {
	return s.items.List(ctx, limit, offset)
}

// SetStatus changes the operational status. Existing reservations are kept;
// only new ones are refused while the item is in maintenance or lost.
func (s *InventoryService) SetStatus(ctx context.Context, id uuid.UUID, status string) (*Equipment, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: invalid status %q", allocation.ErrInvalidRequest, status)
	}
	return s.items.UpdateStatus(ctx, id, status)
}

// ReportIncident records a malfunction. A HIGH severity incident moves the
// item to MAINTENANCE, which refuses new reservations; existing ones stay.
func (s *InventoryService) ReportIncident(ctx context.Context, equipmentID uuid.UUID, reporter, severity, description string) (*Incident, *Equipment, error) {
	severity = strings.ToUpper(strings.TrimSpace(severity))
	if !validSeverities[severity] {
		return nil, nil, fmt.Errorf("%w: invalid severity %q", allocation.ErrInvalidRequest, severity)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, nil, fmt.Errorf("%w: description is required", allocation.ErrInvalidRequest)
	}

	inc := &Incident{
		EquipmentID: equipmentID,
		Severity:    severity,
		Description: description,
		Status:      IncidentOpen,
		ReportedBy:  reporter,
	}
	var status string
	if severity == SeverityHigh {
		status = StatusMaintenance
	}
	e, err := s.items.RecordIncident(ctx, inc, status)
	if err != nil {
		return nil, nil, err
	}
	return inc, e, nil
}

func (s *InventoryService) ListIncidents(ctx context.Context, equipmentID uuid.UUID, limit, offset int) ([]*Incident, int, error) {
	if _, err := s.items.GetByID(ctx, equipmentID); err != nil {
		return nil, 0, err
	}
	return s.items.ListIncidents(ctx, equipmentID, limit, offset)
}
