package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OwnerSource answers the owner questions a unit store cannot answer from
// its own rows.
type OwnerSource interface {
	OwnerEligible(ctx context.Context, ownerID uuid.UUID) (bool, error)
	HorizonOwners(ctx context.Context) ([]uuid.UUID, error)
}

type memTxKey struct{ s *MemoryStore }

// MemoryStore keeps one kind's units and records in process. InTx holds the
// store lock for the whole transaction and undoes every write on error, so
// transactions are serialized and atomic.
type MemoryStore struct {
	owners OwnerSource

	mu      sync.Mutex
	units   map[uuid.UUID]*Unit
	records map[uuid.UUID]*Record
	undo    []func()
}

func NewMemoryStore(owners OwnerSource) *MemoryStore {
	return &MemoryStore{
		owners:  owners,
		units:   make(map[uuid.UUID]*Unit),
		records: make(map[uuid.UUID]*Record),
	}
}

func (s *MemoryStore) Units() UnitStore     { return memUnits{s} }
func (s *MemoryStore) Records() RecordStore { return memRecords{s} }

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{s}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = s.undo[:0]

	if err := fn(context.WithValue(ctx, memTxKey{s}, true)); err != nil {
		for i := len(s.undo) - 1; i >= 0; i-- {
			s.undo[i]()
		}
		s.undo = s.undo[:0]
		return err
	}
	s.undo = s.undo[:0]
	return nil
}

// lock takes the store lock unless ctx is inside this store's transaction.
func (s *MemoryStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{s}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// putUnit and putRecord write through the undo journal.
func (s *MemoryStore) putUnit(ctx context.Context, u *Unit) {
	prev, existed := s.units[u.ID]
	s.units[u.ID] = u
	if ctx.Value(memTxKey{s}) == nil {
		return
	}
	s.undo = append(s.undo, func() {
		if existed {
			s.units[u.ID] = prev
		} else {
			delete(s.units, u.ID)
		}
	})
}

func (s *MemoryStore) putRecord(ctx context.Context, r *Record) {
	prev, existed := s.records[r.ID]
	s.records[r.ID] = r
	if ctx.Value(memTxKey{s}) == nil {
		return
	}
	s.undo = append(s.undo, func() {
		if existed {
			s.records[r.ID] = prev
		} else {
			delete(s.records, r.ID)
		}
	})
}

func (s *MemoryStore) liveHolder(unitID uuid.UUID) bool {
	for _, r := range s.records {
		if r.UnitID != nil && *r.UnitID == unitID && r.Status.Live() {
			return true
		}
	}
	return false
}

func cloneUnit(u *Unit) *Unit {
	c := *u
	if u.StartTime != nil {
		t := *u.StartTime
		c.StartTime = &t
	}
	if u.EndTime != nil {
		t := *u.EndTime
		c.EndTime = &t
	}
	return &c
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.UnitID != nil {
		id := *r.UnitID
		c.UnitID = &id
	}
	if r.TerminatedAt != nil {
		t := *r.TerminatedAt
		c.TerminatedAt = &t
	}
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type memUnits struct{ s *MemoryStore }

func unitLess(a, b *Unit) bool {
	if a.TimeBounded() && b.TimeBounded() && !a.StartTime.Equal(*b.StartTime) {
		return a.StartTime.Before(*b.StartTime)
	}
	if a.Label != b.Label {
		return a.Label < b.Label
	}
	return a.ID.String() < b.ID.String()
}

func (m memUnits) FindAvailable(ctx context.Context, c Criteria, now time.Time) (*Unit, error) {
	defer m.s.lock(ctx)()

	var best *Unit
	for _, u := range m.s.units {
		if u.OwnerID != c.OwnerID || !u.Available() {
			continue
		}
		if u.TimeBounded() && !u.StartTime.After(now) {
			continue
		}
		if best == nil || unitLess(u, best) {
			best = u
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneUnit(best), nil
}

func (m memUnits) Get(ctx context.Context, id uuid.UUID) (*Unit, error) {
	defer m.s.lock(ctx)()
	u, ok := m.s.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUnit(u), nil
}

func (m memUnits) MarkAllocated(ctx context.Context, id uuid.UUID) (*Unit, error) {
	defer m.s.lock(ctx)()
	u, ok := m.s.units[id]
	if !ok || !u.Available() {
		return nil, ErrConflict
	}
	for _, o := range m.s.units {
		if o.ID != u.ID && o.OwnerID == u.OwnerID && o.Allocated && o.Active && o.Overlaps(u) {
			return nil, ErrConflict
		}
	}

	next := cloneUnit(u)
	next.Allocated = true
	next.UpdatedAt = time.Now().UTC()
	m.s.putUnit(ctx, next)
	return cloneUnit(next), nil
}

func (m memUnits) Release(ctx context.Context, id uuid.UUID) (*Unit, error) {
	defer m.s.lock(ctx)()
	u, ok := m.s.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.s.liveHolder(id) {
		return nil, ErrConflict
	}

	next := cloneUnit(u)
	next.Allocated = false
	next.UpdatedAt = time.Now().UTC()
	m.s.putUnit(ctx, next)
	return cloneUnit(next), nil
}

func (m memUnits) Create(ctx context.Context, u *Unit) (*Unit, bool, error) {
	defer m.s.lock(ctx)()
	return m.create(ctx, u)
}

func (m memUnits) create(ctx context.Context, u *Unit) (*Unit, bool, error) {
	for _, o := range m.s.units {
		if o.OwnerID != u.OwnerID {
			continue
		}
		if u.TimeBounded() {
			if o.TimeBounded() && o.StartTime.Equal(*u.StartTime) && o.EndTime.Equal(*u.EndTime) {
				return cloneUnit(o), false, nil
			}
		} else if !o.TimeBounded() && o.Label == u.Label {
			return cloneUnit(o), false, nil
		}
	}

	next := cloneUnit(u)
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	now := time.Now().UTC()
	next.CreatedAt, next.UpdatedAt = now, now
	m.s.putUnit(ctx, next)
	return cloneUnit(next), true, nil
}

func (m memUnits) EnsureUnits(ctx context.Context, units []*Unit) (int, error) {
	defer m.s.lock(ctx)()
	created := 0
	for _, u := range units {
		_, ok, err := m.create(ctx, u)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (m memUnits) Deactivate(ctx context.Context, id uuid.UUID) (*Unit, error) {
	defer m.s.lock(ctx)()
	u, ok := m.s.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Allocated {
		return nil, ErrConflict
	}

	next := cloneUnit(u)
	next.Active = false
	next.UpdatedAt = time.Now().UTC()
	m.s.putUnit(ctx, next)
	return cloneUnit(next), nil
}

func (m memUnits) List(ctx context.Context, f UnitFilter) ([]*Unit, int, error) {
	defer m.s.lock(ctx)()

	var out []*Unit
	for _, u := range m.s.units {
		if f.OwnerID != uuid.Nil && u.OwnerID != f.OwnerID {
			continue
		}
		if !u.Active && !f.IncludeInactive {
			continue
		}
		if f.AvailableOnly && !u.Available() {
			continue
		}
		if u.TimeBounded() {
			if f.From != nil && u.StartTime.Before(*f.From) {
				continue
			}
			if f.To != nil && u.StartTime.After(*f.To) {
				continue
			}
		}
		out = append(out, cloneUnit(u))
	}
	sort.Slice(out, func(i, j int) bool { return unitLess(out[i], out[j]) })
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (m memUnits) OwnerEligible(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	if m.s.owners == nil {
		return true, nil
	}
	return m.s.owners.OwnerEligible(ctx, ownerID)
}

func (m memUnits) HorizonOwners(ctx context.Context) ([]uuid.UUID, error) {
	if m.s.owners == nil {
		return nil, nil
	}
	return m.s.owners.HorizonOwners(ctx)
}

type memRecords struct{ s *MemoryStore }

func (m memRecords) Create(ctx context.Context, r *Record) error {
	defer m.s.lock(ctx)()
	if _, ok := m.s.records[r.ID]; ok {
		return ErrConflict
	}
	if r.UnitID != nil && r.Status.Live() && m.s.liveHolder(*r.UnitID) {
		return ErrConflict
	}
	m.s.putRecord(ctx, cloneRecord(r))
	return nil
}

func (m memRecords) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	defer m.s.lock(ctx)()
	r, ok := m.s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

// GetForUpdate is Get; the transaction already holds the store lock.
func (m memRecords) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return m.Get(ctx, id)
}

func (m memRecords) UpdateStatus(ctx context.Context, r *Record) error {
	defer m.s.lock(ctx)()
	prev, ok := m.s.records[r.ID]
	if !ok {
		return ErrNotFound
	}
	next := cloneRecord(prev)
	next.Status = r.Status
	next.UpdatedAt = r.UpdatedAt
	next.UpdatedBy = r.UpdatedBy
	next.TerminatedAt = r.TerminatedAt
	m.s.putRecord(ctx, next)
	return nil
}

func (m memRecords) CompleteExpired(ctx context.Context, now time.Time, actor string) ([]*Record, error) {
	defer m.s.lock(ctx)()

	var done []*Record
	for _, r := range m.s.records {
		if !r.Status.Live() || r.UnitID == nil {
			continue
		}
		u, ok := m.s.units[*r.UnitID]
		if !ok || u.EndTime == nil || !u.EndTime.Before(now) {
			continue
		}
		next := cloneRecord(r)
		next.Status = StatusCompleted
		next.UpdatedAt = now
		next.UpdatedBy = actor
		if next.TerminatedAt == nil {
			t := now
			next.TerminatedAt = &t
		}
		m.s.putRecord(ctx, next)
		done = append(done, cloneRecord(next))
	}
	sort.Slice(done, func(i, j int) bool { return done[i].CreatedAt.Before(done[j].CreatedAt) })
	return done, nil
}

func (m memRecords) ListStartingBetween(ctx context.Context, from, to time.Time) ([]*Allocation, error) {
	defer m.s.lock(ctx)()

	var out []*Allocation
	for _, r := range m.s.records {
		if !r.Status.Live() || r.UnitID == nil {
			continue
		}
		u, ok := m.s.units[*r.UnitID]
		if !ok || u.StartTime == nil || u.StartTime.Before(from) || u.StartTime.After(to) {
			continue
		}
		out = append(out, &Allocation{Record: cloneRecord(r), Unit: cloneUnit(u)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.StartTime.Before(*out[j].Unit.StartTime) })
	return out, nil
}

func (m memRecords) List(ctx context.Context, f RecordFilter) ([]*Record, int, error) {
	defer m.s.lock(ctx)()

	var out []*Record
	for _, r := range m.s.records {
		if f.RequesterID != nil && r.RequesterID != *f.RequesterID {
			continue
		}
		if f.OwnerID != nil && r.OwnerID != *f.OwnerID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}
