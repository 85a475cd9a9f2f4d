package admissions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/allocation"
)

type WardRepository interface {
	Create(ctx context.Context, w *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	List(ctx context.Context, limit, offset int) ([]*Ward, int, error)
}

// MemoryWards keeps wards in process. It is also the owner source of the
// in-memory bed store: a ward takes admissions while active.
type MemoryWards struct {
	mu    sync.RWMutex
	wards map[uuid.UUID]*Ward
}

func NewMemoryWards() *MemoryWards {
	return &MemoryWards{wards: make(map[uuid.UUID]*Ward)}
}

func (m *MemoryWards) Create(_ context.Context, w *Ward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	cp := *w
	m.wards[w.ID] = &cp
	return nil
}

func (m *MemoryWards) GetByID(_ context.Context, id uuid.UUID) (*Ward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wards[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryWards) List(_ context.Context, limit, offset int) ([]*Ward, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Ward, 0, len(m.wards))
	for _, w := range m.wards {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset >= total {
		return []*Ward{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *MemoryWards) OwnerEligible(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wards[id]
	return ok && w.Active, nil
}

// HorizonOwners is empty: beds are registered, never generated.
func (m *MemoryWards) HorizonOwners(context.Context) ([]uuid.UUID, error) {
	return nil, nil
}
