package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/notification"
)

// Appointment is the API view of a booked slot.
type Appointment struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	SlotID         *uuid.UUID `json:"slot_id,omitempty"`
	Status         string     `json:"status"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
}

// Slot is the API view of a bookable time window.
type Slot struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Status         string    `json:"status"`
	Active         bool      `json:"active"`
}

const (
	SlotFree = "free"
	SlotBusy = "busy"
)

// Kind describes appointments: patients book a practitioner's slots, slots
// are generated ahead of time and stay consumed once the visit completes.
func Kind() allocation.Kind {
	k := allocation.Kind{
		Name:             "scheduling",
		UnitName:         "slot",
		ResourceType:     "Appointment",
		Requester:        identity.RolePatient,
		TimeBounded:      true,
		Horizon:          true,
		OwnerRole:        identity.RolePractitioner,
		ReminderTemplate: notification.TemplateAppointmentReminder,
		Labels: map[allocation.Status]string{
			allocation.StatusActive: "booked",
			allocation.StatusError:  "entered-in-error",
		},
		Events: map[allocation.Status]string{
			allocation.StatusActive:    "appointment.booked",
			allocation.StatusCompleted: "appointment.completed",
			allocation.StatusCancelled: "appointment.cancelled",
			allocation.StatusError:     "appointment.entered-in-error",
		},
	}
	k.Present = func(rec *allocation.Record, unit *allocation.Unit) any {
		a := &Appointment{
			ID:             rec.ID,
			PatientID:      rec.RequesterID,
			PractitionerID: rec.OwnerID,
			SlotID:         rec.UnitID,
			Status:         k.Label(rec.Status),
			Notes:          rec.Notes,
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
			TerminatedAt:   rec.TerminatedAt,
			UpdatedBy:      rec.UpdatedBy,
		}
		if unit != nil {
			a.Start, a.End = unit.StartTime, unit.EndTime
		}
		return a
	}
	k.PresentUnit = func(u *allocation.Unit) any {
		s := &Slot{ID: u.ID, PractitionerID: u.OwnerID, Status: SlotFree, Active: u.Active}
		if u.StartTime != nil {
			s.Start, s.End = *u.StartTime, *u.EndTime
		}
		if u.Allocated {
			s.Status = SlotBusy
		}
		return s
	}
	return k
}
