package identity

import (
	"time"

	"github.com/google/uuid"
)

// Role says which directory a requester id is resolved against.
type Role string

const (
	RolePatient      Role = "patient"
	RolePractitioner Role = "practitioner"
)

// Requester is the minimal identity the allocation core needs.
type Requester struct {
	ID          uuid.UUID `json:"id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
}

type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	MRN       string    `db:"mrn" json:"mrn"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (p *Patient) Requester() *Requester {
	return &Requester{ID: p.ID, Role: RolePatient, DisplayName: p.FirstName + " " + p.LastName, Active: p.Active}
}

// Practitioner doubles as a scheduling owner (slots) and as an equipment
// requester (staff).
type Practitioner struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	FirstName             string    `db:"first_name" json:"first_name"`
	LastName              string    `db:"last_name" json:"last_name"`
	Specialty             string    `db:"specialty" json:"specialty,omitempty"`
	SchedulingParticipant bool      `db:"scheduling_participant" json:"scheduling_participant"`
	Active                bool      `db:"active" json:"active"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

func (p *Practitioner) Requester() *Requester {
	return &Requester{ID: p.ID, Role: RolePractitioner, DisplayName: "Dr. " + p.LastName, Active: p.Active}
}
