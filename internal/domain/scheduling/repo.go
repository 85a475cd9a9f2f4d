package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/identity"
)

// PractitionerLister is the part of the in-memory directory slot owners
// are read from.
type PractitionerLister interface {
	Practitioners() []*identity.Practitioner
}

// DirectoryOwners answers owner questions for the in-memory store:
// practitioners take bookings while active, and get generated slots while
// active and participating in scheduling.
type DirectoryOwners struct {
	dir PractitionerLister
}

func NewDirectoryOwners(dir PractitionerLister) *DirectoryOwners {
	return &DirectoryOwners{dir: dir}
}

func (o *DirectoryOwners) OwnerEligible(_ context.Context, id uuid.UUID) (bool, error) {
	for _, p := range o.dir.Practitioners() {
		if p.ID == id {
			return p.Active, nil
		}
	}
	return false, nil
}

func (o *DirectoryOwners) HorizonOwners(context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, p := range o.dir.Practitioners() {
		if p.Active && p.SchedulingParticipant {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}
