package admissions

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
)

// Ward owns a pool of beds.
type Ward struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Admission is the API view of an inpatient stay. BedID is empty while the
// patient waits for a bed.
type Admission struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	WardID       uuid.UUID  `json:"ward_id"`
	BedID        *uuid.UUID `json:"bed_id,omitempty"`
	BedNumber    string     `json:"bed_number,omitempty"`
	Status       string     `json:"status"`
	Waitlisted   bool       `json:"waitlisted"`
	Notes        string     `json:"notes,omitempty"`
	AdmittedAt   time.Time  `json:"admitted_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DischargedAt *time.Time `json:"discharged_at,omitempty"`
	UpdatedBy    string     `json:"updated_by,omitempty"`
}

type Bed struct {
	ID        uuid.UUID `json:"id"`
	WardID    uuid.UUID `json:"ward_id"`
	BedNumber string    `json:"bed_number"`
	Occupied  bool      `json:"occupied"`
	Active    bool      `json:"active"`
}

// Kind describes admissions: patients take the first free bed of a ward by
// bed number, wait without one when the ward is full, and free it on
// discharge.
func Kind() allocation.Kind {
	k := allocation.Kind{
		Name:         "admissions",
		UnitName:     "bed",
		ResourceType: "Encounter",
		Requester:    identity.RolePatient,
		Waitlist:     true,
		Labels: map[allocation.Status]string{
			allocation.StatusActive:    "admitted",
			allocation.StatusCompleted: "discharged",
			allocation.StatusError:     "entered-in-error",
		},
		Events: map[allocation.Status]string{
			allocation.StatusActive:    "admission.admitted",
			allocation.StatusCompleted: "admission.discharged",
			allocation.StatusCancelled: "admission.cancelled",
			allocation.StatusError:     "admission.entered-in-error",
		},
	}
	k.Present = func(rec *allocation.Record, unit *allocation.Unit) any {
		a := &Admission{
			ID:         rec.ID,
			PatientID:  rec.RequesterID,
			WardID:     rec.OwnerID,
			BedID:      rec.UnitID,
			Status:     k.Label(rec.Status),
			Waitlisted: rec.UnitID == nil,
			Notes:      rec.Notes,
			AdmittedAt: rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
			UpdatedBy:  rec.UpdatedBy,
		}
		if rec.Status == allocation.StatusCompleted {
			a.DischargedAt = rec.TerminatedAt
		}
		if unit != nil {
			a.BedNumber = unit.Label
		}
		return a
	}
	k.PresentUnit = func(u *allocation.Unit) any {
		return &Bed{ID: u.ID, WardID: u.OwnerID, BedNumber: u.Label, Occupied: u.Allocated, Active: u.Active}
	}
	return k
}
