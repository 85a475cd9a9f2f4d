package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu            sync.RWMutex
	patients      map[uuid.UUID]*Patient
	practitioners map[uuid.UUID]*Practitioner
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		patients:      make(map[uuid.UUID]*Patient),
		practitioners: make(map[uuid.UUID]*Practitioner),
	}
}

func (d *MemoryDirectory) GetRequester(_ context.Context, role Role, id uuid.UUID) (*Requester, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch role {
	case RolePatient:
		if p, ok := d.patients[id]; ok && p.Active {
			return p.Requester(), nil
		}
	case RolePractitioner:
		if p, ok := d.practitioners[id]; ok && p.Active {
			return p.Requester(), nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return nil, nil
}

func (d *MemoryDirectory) CreatePatient(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p

	d.mu.Lock()
	d.patients[p.ID] = &cp
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) CreatePractitioner(_ context.Context, p *Practitioner) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p

	d.mu.Lock()
	d.practitioners[p.ID] = &cp
	d.mu.Unlock()
	return nil
}

// Practitioners returns a snapshot, used by the in-memory scheduling store to
// find horizon owners.
func (d *MemoryDirectory) Practitioners() []*Practitioner {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Practitioner, 0, len(d.practitioners))
	for _, p := range d.practitioners {
		cp := *p
		out = append(out, &cp)
	}
	return out
}
