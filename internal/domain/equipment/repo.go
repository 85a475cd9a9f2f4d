package equipment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
)

type Repository interface {
	Create(ctx context.Context, e *Equipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Equipment, error)
	List(ctx context.Context, limit, offset int) ([]*Equipment, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Equipment, error)

	// RecordIncident stores inc and, when status is non-empty, moves the
	// item to it in the same step.
	RecordIncident(ctx context.Context, inc *Incident, status string) (*Equipment, error)
	ListIncidents(ctx context.Context, equipmentID uuid.UUID, limit, offset int) ([]*Incident, int, error)
}

// MemoryRepository keeps the inventory in process and serves as the owner
// source of the in-memory window store.
type MemoryRepository struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]*Equipment
	incidents map[uuid.UUID][]*Incident
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:     make(map[uuid.UUID]*Equipment),
		incidents: make(map[uuid.UUID][]*Incident),
	}
}

func (m *MemoryRepository) Create(_ context.Context, e *Equipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	m.items[e.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Equipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryRepository) List(_ context.Context, limit, offset int) ([]*Equipment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Equipment, 0, len(m.items))
	for _, e := range m.items {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset >= total {
		return []*Equipment{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, status string) (*Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	e.Status = status
	cp := *e
	return &cp, nil
}

func (m *MemoryRepository) RecordIncident(_ context.Context, inc *Incident, status string) (*Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[inc.EquipmentID]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	cp := *inc
	m.incidents[inc.EquipmentID] = append(m.incidents[inc.EquipmentID], &cp)
	if status != "" {
		e.Status = status
	}
	out := *e
	return &out, nil
}

// ListIncidents returns the newest incidents first.
func (m *MemoryRepository) ListIncidents(_ context.Context, equipmentID uuid.UUID, limit, offset int) ([]*Incident, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.incidents[equipmentID]
	total := len(all)
	out := make([]*Incident, 0, total)
	for i := total - 1; i >= 0; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	if offset >= total {
		return []*Incident{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *MemoryRepository) OwnerEligible(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	return ok && e.Reservable(), nil
}

// HorizonOwners is empty: windows are created on demand.
func (m *MemoryRepository) HorizonOwners(context.Context) ([]uuid.UUID, error) {
	return nil, nil
}
