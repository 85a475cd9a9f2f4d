package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/events"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
)

var (
	slotKind = Kind{
		Name:             "scheduling",
		UnitName:         "slot",
		ResourceType:     "Appointment",
		Requester:        identity.RolePatient,
		TimeBounded:      true,
		Horizon:          true,
		OwnerRole:        identity.RolePractitioner,
		ReminderTemplate: "appointment-reminder",
		Labels:           map[Status]string{StatusActive: "booked", StatusError: "entered-in-error"},
		Events: map[Status]string{
			StatusActive:    "appointment.booked",
			StatusCompleted: "appointment.completed",
			StatusCancelled: "appointment.cancelled",
			StatusError:     "appointment.entered-in-error",
		},
	}
	bedKind = Kind{
		Name:         "admissions",
		UnitName:     "bed",
		ResourceType: "Encounter",
		Requester:    identity.RolePatient,
		Waitlist:     true,
		Labels:       map[Status]string{StatusActive: "admitted", StatusCompleted: "discharged"},
	}
	windowKind = Kind{
		Name:         "equipment",
		UnitName:     "window",
		ResourceType: "EquipmentReservation",
		Requester:    identity.RolePractitioner,
		TimeBounded:  true,
		OnDemand:     true,
	}
)

// base is a fixed "now" for engine tests.
var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type owners struct {
	mu         sync.Mutex
	ineligible map[uuid.UUID]bool
	horizon    []uuid.UUID
	err        error
}

func (o *owners) OwnerEligible(_ context.Context, id uuid.UUID) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.ineligible[id], o.err
}

func (o *owners) HorizonOwners(context.Context) ([]uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.horizon, o.err
}

type publishedEvent struct {
	Type    string
	Key     string
	Payload events.Payload
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, eventType, key string, payload events.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Key: key, Payload: payload})
	return p.err
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	t         *testing.T
	kind      Kind
	store     *MemoryStore
	owners    *owners
	dir       *identity.MemoryDirectory
	ledger    *idempotency.MemoryLedger
	publisher *fakePublisher
	engine    *Engine
	now       time.Time
	owner     uuid.UUID
}

func newFixture(t *testing.T, kind Kind) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		kind:      kind,
		owners:    &owners{ineligible: map[uuid.UUID]bool{}},
		dir:       identity.NewMemoryDirectory(),
		ledger:    idempotency.NewMemoryLedger(time.Hour),
		publisher: &fakePublisher{},
		now:       base,
		owner:     uuid.New(),
	}
	f.store = NewMemoryStore(f.owners)
	f.engine = NewEngine(kind, f.store, f.dir, f.ledger,
		WithClock(func() time.Time { return f.now }),
		WithPublisher(f.publisher),
	)
	return f
}

func (f *fixture) patient() uuid.UUID {
	f.t.Helper()
	p := &identity.Patient{FirstName: "Ada", LastName: "Lovelace", Active: true}
	require.NoError(f.t, f.dir.CreatePatient(context.Background(), p))
	return p.ID
}

func (f *fixture) practitioner() uuid.UUID {
	f.t.Helper()
	p := &identity.Practitioner{FirstName: "Gregory", LastName: "House", Active: true, SchedulingParticipant: true}
	require.NoError(f.t, f.dir.CreatePractitioner(context.Background(), p))
	return p.ID
}

func (f *fixture) requester() uuid.UUID {
	if f.kind.Requester == identity.RolePractitioner {
		return f.practitioner()
	}
	return f.patient()
}

// slot creates a time-bounded unit starting offset after base.
func (f *fixture) slot(offset, length time.Duration) *Unit {
	f.t.Helper()
	start, end := base.Add(offset), base.Add(offset+length)
	u, created, err := f.store.Units().Create(context.Background(), &Unit{
		OwnerID: f.owner, StartTime: &start, EndTime: &end, Active: true,
	})
	require.NoError(f.t, err)
	require.True(f.t, created)
	return u
}

func (f *fixture) bed(label string) *Unit {
	f.t.Helper()
	u, created, err := f.store.Units().Create(context.Background(), &Unit{OwnerID: f.owner, Label: label, Active: true})
	require.NoError(f.t, err)
	require.True(f.t, created)
	return u
}

func (f *fixture) request(requester uuid.UUID, unit *Unit) Request {
	req := Request{
		Criteria:    Criteria{OwnerID: f.owner},
		RequesterID: requester,
		Actor:       "frontdesk",
		Path:        "/api/v1/test",
	}
	if unit != nil {
		req.Criteria.UnitID = &unit.ID
	}
	return req
}

func (f *fixture) allocate(req Request) (*Outcome, error) {
	return f.engine.Allocate(context.Background(), req)
}

func (f *fixture) unit(id uuid.UUID) *Unit {
	f.t.Helper()
	u, err := f.store.Units().Get(context.Background(), id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) records() []*Record {
	f.t.Helper()
	recs, _, err := f.store.Records().List(context.Background(), RecordFilter{})
	require.NoError(f.t, err)
	return recs
}

// seedRecord stores a record in the given status holding unit.
func (f *fixture) seedRecord(status Status, unit *Unit) *Record {
	f.t.Helper()
	ctx := context.Background()
	rec := &Record{
		ID:          uuid.New(),
		RequesterID: f.patient(),
		OwnerID:     f.owner,
		Status:      status,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
	if unit != nil {
		rec.UnitID = &unit.ID
		if status.Live() {
			_, err := f.store.Units().MarkAllocated(ctx, unit.ID)
			require.NoError(f.t, err)
		}
	}
	require.NoError(f.t, f.store.Records().Create(ctx, rec))
	return rec
}

var errBoom = errors.New("boom")
