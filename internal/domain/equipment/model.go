package equipment

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
)

// Equipment operational statuses. Items in maintenance or lost cannot be
// reserved.
const (
	StatusAvailable   = "AVAILABLE"
	StatusInUse       = "IN_USE"
	StatusMaintenance = "MAINTENANCE"
	StatusLost        = "LOST"
)

var validStatuses = map[string]bool{
	StatusAvailable:   true,
	StatusInUse:       true,
	StatusMaintenance: true,
	StatusLost:        true,
}

type Equipment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Status    string    `db:"status" json:"status"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Incident severities. A HIGH incident takes the item out of service.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

var validSeverities = map[string]bool{
	SeverityLow:    true,
	SeverityMedium: true,
	SeverityHigh:   true,
}

const IncidentOpen = "OPEN"

// Incident is a reported damage or malfunction.
type Incident struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	EquipmentID uuid.UUID  `db:"equipment_id" json:"equipment_id"`
	Severity    string     `db:"severity" json:"severity"`
	Description string     `db:"description" json:"description"`
	Status      string     `db:"status" json:"status"`
	ReportedBy  string     `db:"reported_by" json:"reported_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Reservable reports whether the item can take new reservations.
func (e *Equipment) Reservable() bool {
	return e.Active && e.Status != StatusMaintenance && e.Status != StatusLost
}

// Reservation is the API view of a booked equipment window.
type Reservation struct {
	ID           uuid.UUID  `json:"id"`
	RequesterID  uuid.UUID  `json:"requester_id"`
	EquipmentID  uuid.UUID  `json:"equipment_id"`
	WindowID     *uuid.UUID `json:"window_id,omitempty"`
	DepartmentID string     `json:"department_id,omitempty"`
	Purpose      string     `json:"purpose,omitempty"`
	Status       string     `json:"status"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
	UpdatedBy    string     `json:"updated_by,omitempty"`
}

type Window struct {
	ID          uuid.UUID `json:"id"`
	EquipmentID uuid.UUID `json:"equipment_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Reserved    bool      `json:"reserved"`
	Active      bool      `json:"active"`
}

const (
	attrDepartment = "department_id"
	attrPurpose    = "purpose"
)

// Kind describes equipment reservations: staff reserve a time window on a
// piece of equipment, either a registered window or one created on demand.
func Kind() allocation.Kind {
	k := allocation.Kind{
		Name:         "equipment",
		UnitName:     "window",
		ResourceType: "EquipmentReservation",
		Requester:    identity.RolePractitioner,
		TimeBounded:  true,
		OnDemand:     true,
		Labels: map[allocation.Status]string{
			allocation.StatusActive:    "ACTIVE",
			allocation.StatusCompleted: "COMPLETED",
			allocation.StatusCancelled: "CANCELLED",
			allocation.StatusError:     "ERROR",
		},
		Events: map[allocation.Status]string{
			allocation.StatusActive:    "equipment.reserved",
			allocation.StatusCompleted: "equipment.reservation-completed",
			allocation.StatusCancelled: "equipment.reservation-cancelled",
			allocation.StatusError:     "equipment.reservation-error",
		},
	}
	k.Present = func(rec *allocation.Record, unit *allocation.Unit) any {
		r := &Reservation{
			ID:           rec.ID,
			RequesterID:  rec.RequesterID,
			EquipmentID:  rec.OwnerID,
			WindowID:     rec.UnitID,
			DepartmentID: rec.Attributes[attrDepartment],
			Purpose:      rec.Attributes[attrPurpose],
			Status:       k.Label(rec.Status),
			Notes:        rec.Notes,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
			TerminatedAt: rec.TerminatedAt,
			UpdatedBy:    rec.UpdatedBy,
		}
		if unit != nil {
			r.Start, r.End = unit.StartTime, unit.EndTime
		}
		return r
	}
	k.PresentUnit = func(u *allocation.Unit) any {
		w := &Window{ID: u.ID, EquipmentID: u.OwnerID, Reserved: u.Allocated, Active: u.Active}
		if u.StartTime != nil {
			w.Start, w.End = *u.StartTime, *u.EndTime
		}
		return w
	}
	return k
}
