package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
)

func TestAllocate_ExplicitUnit(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	patient := f.patient()

	out, err := f.allocate(f.request(patient, u))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, out.StatusCode)
	assert.False(t, out.Replayed)
	require.NotNil(t, out.Record)
	assert.Equal(t, StatusActive, out.Record.Status)
	assert.Equal(t, patient, out.Record.RequesterID)
	assert.Equal(t, u.ID, *out.Record.UnitID)
	assert.Equal(t, "frontdesk", out.Record.UpdatedBy)
	assert.True(t, f.unit(u.ID).Allocated)

	var body Record
	require.NoError(t, json.Unmarshal(out.Body, &body))
	assert.Equal(t, out.Record.ID, body.ID)

	assert.Equal(t, []string{"appointment.booked"}, f.publisher.types())
	ev := f.publisher.events[0]
	assert.Equal(t, out.Record.ID.String(), ev.Key)
	assert.Equal(t, "frontdesk", ev.Payload.ActorID)
	assert.Equal(t, "booked", ev.Payload.Action)
	assert.Equal(t, "Appointment", ev.Payload.ResourceType)
}

func TestAllocate_NoDoubleAllocation(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)

	const n = 25
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = f.patient()
	}

	results := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = f.allocate(f.request(patients[i], u))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrResourceUnavailable)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.records(), 1)
}

func TestAllocate_NoDoubleAllocationFromPool(t *testing.T) {
	f := newFixture(t, slotKind)
	for i := 0; i < 3; i++ {
		f.slot(time.Duration(i+1)*time.Hour, 30*time.Minute)
	}

	const n = 10
	errs := make([]error, n)
	units := make([]uuid.UUID, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		p := f.patient()
		g.Go(func() error {
			out, err := f.allocate(f.request(p, nil))
			errs[i] = err
			if err == nil {
				units[i] = *out.Record.UnitID
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[uuid.UUID]bool{}
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrResourceUnavailable)
			continue
		}
		assert.False(t, seen[units[i]], "unit handed out twice")
		seen[units[i]] = true
	}
	assert.Len(t, seen, 3)
}

func TestAllocate_Scenario(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	p1, p2 := f.patient(), f.patient()

	r1, err := f.allocate(f.request(p1, u))
	require.NoError(t, err)

	_, err = f.allocate(f.request(p2, u))
	require.ErrorIs(t, err, ErrResourceUnavailable)

	_, err = f.engine.Cancel(context.Background(), r1.Record.ID, "admin")
	require.NoError(t, err)
	assert.False(t, f.unit(u.ID).Allocated)

	r2, err := f.allocate(f.request(p2, u))
	require.NoError(t, err)
	assert.Equal(t, p2, r2.Record.RequesterID)
	assert.NotEqual(t, r1.Record.ID, r2.Record.ID)
}

func TestAllocate_IdempotentRetry(t *testing.T) {
	f := newFixture(t, slotKind)
	f.slot(time.Hour, 30*time.Minute)
	f.slot(2*time.Hour, 30*time.Minute)
	patient := f.patient()

	req := f.request(patient, nil)
	req.IdempotencyKey = "key-1"

	first, err := f.allocate(req)
	require.NoError(t, err)
	second, err := f.allocate(req)
	require.NoError(t, err)

	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.True(t, second.Replayed)
	assert.Nil(t, second.Record)
	assert.Len(t, f.records(), 1)
	assert.Len(t, f.publisher.types(), 1)
}

func TestAllocate_IdempotentConcurrentRetries(t *testing.T) {
	f := newFixture(t, slotKind)
	for i := 0; i < 5; i++ {
		f.slot(time.Duration(i+1)*time.Hour, 30*time.Minute)
	}
	req := f.request(f.patient(), nil)
	req.IdempotencyKey = "same-key"

	bodies := make([][]byte, 8)
	var g errgroup.Group
	for i := range bodies {
		i := i
		g.Go(func() error {
			out, err := f.allocate(req)
			if err != nil {
				return err
			}
			bodies[i] = out.Body
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
	assert.Len(t, f.records(), 1)
}

func TestAllocate_IdempotencyKeyScopedByActor(t *testing.T) {
	f := newFixture(t, slotKind)
	f.slot(time.Hour, 30*time.Minute)
	f.slot(2*time.Hour, 30*time.Minute)

	a := f.request(f.patient(), nil)
	a.IdempotencyKey = "shared"
	b := f.request(f.patient(), nil)
	b.IdempotencyKey = "shared"
	b.Actor = "other-clerk"

	_, err := f.allocate(a)
	require.NoError(t, err)
	out, err := f.allocate(b)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Len(t, f.records(), 2)
}

func TestAllocate_IdempotencyKeyReusedOnOtherPath(t *testing.T) {
	f := newFixture(t, slotKind)
	f.slot(time.Hour, 30*time.Minute)

	req := f.request(f.patient(), nil)
	req.IdempotencyKey = "k"
	_, err := f.allocate(req)
	require.NoError(t, err)

	req.Path = "/api/v1/other"
	_, err = f.allocate(req)
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
}

// racingLedger reports an empty ledger once, then rejects the write as a
// duplicate, as when another process wins the unique constraint.
type racingLedger struct {
	stored *idempotency.Entry
	gets   int
}

func (l *racingLedger) Get(context.Context, string, string) (*idempotency.Entry, error) {
	l.gets++
	if l.gets == 1 {
		return nil, nil
	}
	return l.stored, nil
}

func (l *racingLedger) Put(context.Context, *idempotency.Entry) error {
	return idempotency.ErrDuplicate
}

// staleLedger misses its first read, as when a second process looks up
// the key before the first one has stored its response.
type staleLedger struct {
	idempotency.Ledger
	missed bool
}

func (l *staleLedger) Get(ctx context.Context, identity, key string) (*idempotency.Entry, error) {
	if !l.missed {
		l.missed = true
		return nil, nil
	}
	return l.Ledger.Get(ctx, identity, key)
}

func TestAllocate_LedgerRaceReturnsStoredEntry(t *testing.T) {
	f := newFixture(t, slotKind)
	first := f.slot(time.Hour, 30*time.Minute)
	second := f.slot(2*time.Hour, 30*time.Minute)
	other := NewEngine(slotKind, f.store, f.dir, &staleLedger{Ledger: f.ledger},
		WithClock(func() time.Time { return f.now }),
		WithPublisher(f.publisher),
	)

	req := f.request(f.patient(), nil)
	req.IdempotencyKey = "same-key"
	won, err := f.allocate(req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, *won.Record.UnitID)

	lost, err := other.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, lost.Replayed)
	assert.JSONEq(t, string(won.Body), string(lost.Body))

	var live []*Record
	for _, r := range f.records() {
		if r.Status.Live() {
			live = append(live, r)
			continue
		}
		assert.Equal(t, StatusCancelled, r.Status)
		assert.Equal(t, SystemActor, r.UpdatedBy)
	}
	require.Len(t, live, 1, "one live record per idempotency key")
	assert.Equal(t, won.Record.ID, live[0].ID)
	assert.True(t, f.unit(first.ID).Allocated)
	assert.False(t, f.unit(second.ID).Allocated, "the undone allocation frees its slot")
}

func TestAllocate_LedgerRaceWithExpiredEntry(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	f.engine = NewEngine(slotKind, f.store, f.dir, &racingLedger{}, WithClock(func() time.Time { return f.now }))

	req := f.request(f.patient(), nil)
	req.IdempotencyKey = "k"
	_, err := f.allocate(req)
	require.ErrorIs(t, err, idempotency.ErrDuplicate)
	assert.NotContains(t, err.Error(), "%!w")
	assert.False(t, f.unit(u.ID).Allocated)
}

// gatedLedger holds reads until open is closed, honouring the caller's
// context while it waits.
type gatedLedger struct {
	idempotency.Ledger
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

func (l *gatedLedger) Get(ctx context.Context, identity, key string) (*idempotency.Entry, error) {
	l.once.Do(func() { close(l.entered) })
	select {
	case <-l.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.Ledger.Get(ctx, identity, key)
}

func TestAllocate_CallerDisconnectDoesNotAbortSharedAttempt(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	ledger := &gatedLedger{Ledger: f.ledger, entered: make(chan struct{}), open: make(chan struct{})}
	f.engine = NewEngine(slotKind, f.store, f.dir, ledger, WithClock(func() time.Time { return f.now }))

	req := f.request(f.patient(), u)
	req.IdempotencyKey = "k"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Allocate(ctx, req)
		done <- err
	}()
	<-ledger.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(ledger.open)
	require.Eventually(t, func() bool {
		entry, err := f.ledger.Get(context.Background(), ledgerIdentity(req), req.IdempotencyKey)
		return err == nil && entry != nil
	}, 2*time.Second, 5*time.Millisecond)

	again, err := f.allocate(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, again.StatusCode)
	assert.True(t, f.unit(u.ID).Allocated)
	assert.Len(t, f.records(), 1)
}

func TestAllocate_RequesterNotFound(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)

	inactive := &identity.Patient{FirstName: "Gone", Active: false}
	require.NoError(t, f.dir.CreatePatient(context.Background(), inactive))

	for _, id := range []uuid.UUID{uuid.New(), inactive.ID} {
		_, err := f.allocate(f.request(id, u))
		assert.ErrorIs(t, err, ErrRequesterNotFound)
	}
	assert.False(t, f.unit(u.ID).Allocated)
	assert.Empty(t, f.publisher.types())
}

func TestAllocate_RequesterOfWrongRole(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)

	_, err := f.allocate(f.request(f.practitioner(), u))
	assert.ErrorIs(t, err, ErrRequesterNotFound)
}

func TestAllocate_PicksEarliestFutureUnit(t *testing.T) {
	f := newFixture(t, slotKind)
	f.slot(-time.Hour, 30*time.Minute) // already started
	late := f.slot(3*time.Hour, 30*time.Minute)
	early := f.slot(time.Hour, 30*time.Minute)

	out, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Equal(t, early.ID, *out.Record.UnitID)

	out, err = f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Equal(t, late.ID, *out.Record.UnitID)

	_, err = f.allocate(f.request(f.patient(), nil))
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestAllocate_UnavailableExplicitUnits(t *testing.T) {
	f := newFixture(t, slotKind)
	ended := f.slot(-time.Hour, 30*time.Minute)
	inactive := f.slot(time.Hour, 30*time.Minute)
	_, err := f.store.Units().Deactivate(context.Background(), inactive.ID)
	require.NoError(t, err)

	foreign := f.slot(2*time.Hour, 30*time.Minute)
	foreignReq := f.request(f.patient(), foreign)
	foreignReq.Criteria.OwnerID = uuid.New()

	tests := []struct {
		name string
		req  Request
	}{
		{"ended", f.request(f.patient(), ended)},
		{"inactive", f.request(f.patient(), inactive)},
		{"missing", f.request(f.patient(), &Unit{ID: uuid.New()})},
		{"other owner", foreignReq},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.allocate(tt.req)
			assert.ErrorIs(t, err, ErrResourceUnavailable)
		})
	}
	assert.Empty(t, f.records())
}

func TestAllocate_IneligibleOwner(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	f.owners.ineligible[f.owner] = true

	_, err := f.allocate(f.request(f.patient(), u))
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.False(t, f.unit(u.ID).Allocated)
}

func TestAllocate_InvalidRequest(t *testing.T) {
	f := newFixture(t, slotKind)
	start, end := base.Add(time.Hour), base.Add(2*time.Hour)

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"no requester", func(r *Request) { r.RequesterID = uuid.Nil }},
		{"no owner", func(r *Request) { r.Criteria.OwnerID = uuid.Nil }},
		{"on demand on a fixed kind", func(r *Request) { r.Criteria.Start, r.Criteria.End = &start, &end }},
		{"half a window", func(r *Request) { r.Criteria.Start = &start }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(uuid.New(), nil)
			tt.mutate(&req)
			_, err := f.allocate(req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestAllocate_BedWaitlist(t *testing.T) {
	f := newFixture(t, bedKind)
	bed := f.bed("A-1")

	first, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Equal(t, bed.ID, *first.Record.UnitID)

	waitlisted, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Nil(t, waitlisted.Record.UnitID)
	assert.Nil(t, waitlisted.Unit)
	assert.Equal(t, StatusActive, waitlisted.Record.Status)

	// An explicitly requested occupied bed is still a failure.
	_, err = f.allocate(f.request(f.patient(), bed))
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestAllocate_BedsInLabelOrder(t *testing.T) {
	f := newFixture(t, bedKind)
	b2 := f.bed("B-2")
	b1 := f.bed("B-1")

	out, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Equal(t, b1.ID, *out.Record.UnitID)

	out, err = f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Equal(t, b2.ID, *out.Record.UnitID)
}

func TestAllocate_OnDemandWindow(t *testing.T) {
	f := newFixture(t, windowKind)
	start, end := base.Add(time.Hour), base.Add(3*time.Hour)

	req := f.request(f.practitioner(), nil)
	req.Criteria.Start, req.Criteria.End = &start, &end
	req.Attributes = map[string]string{"purpose": "MRI"}
	out, err := f.allocate(req)
	require.NoError(t, err)
	require.NotNil(t, out.Unit)
	assert.True(t, out.Unit.Allocated)
	assert.True(t, out.Unit.StartTime.Equal(start))
	assert.Equal(t, "MRI", out.Record.Attributes["purpose"])

	// Overlapping window of the same equipment.
	s2, e2 := base.Add(2*time.Hour), base.Add(4*time.Hour)
	overlap := f.request(f.practitioner(), nil)
	overlap.Criteria.Start, overlap.Criteria.End = &s2, &e2
	_, err = f.allocate(overlap)
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	// The failed request left no window behind.
	units, total, err := f.store.Units().List(context.Background(), UnitFilter{OwnerID: f.owner})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, units, 1)

	// Adjacent windows do not overlap.
	s3, e3 := end, end.Add(time.Hour)
	adjacent := f.request(f.practitioner(), nil)
	adjacent.Criteria.Start, adjacent.Criteria.End = &s3, &e3
	_, err = f.allocate(adjacent)
	assert.NoError(t, err)
}

func TestAllocate_OnDemandWindowValidation(t *testing.T) {
	f := newFixture(t, windowKind)
	start := base.Add(time.Hour)

	req := f.request(f.practitioner(), nil)
	req.Criteria.Start, req.Criteria.End = &start, &start
	_, err := f.allocate(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	unitID := uuid.New()
	end := start.Add(time.Hour)
	req.Criteria.End = &end
	req.Criteria.UnitID = &unitID
	_, err = f.allocate(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAllocate_PublishFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	f.publisher.err = errors.New("kafka down")

	out, err := f.allocate(f.request(f.patient(), u))
	require.NoError(t, err)
	assert.True(t, f.unit(u.ID).Allocated)
	assert.Len(t, f.records(), 1)
	assert.Equal(t, StatusActive, out.Record.Status)
}

func TestAllocate_StoreFailureRollsBack(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	f.engine = NewEngine(slotKind, &failingRecords{MemoryStore: f.store}, f.dir, f.ledger,
		WithClock(func() time.Time { return f.now }))

	_, err := f.allocate(f.request(f.patient(), u))
	require.ErrorIs(t, err, errBoom)
	assert.False(t, f.unit(u.ID).Allocated, "unit flip must roll back with the record insert")
}

type failingRecords struct {
	*MemoryStore
}

func (s *failingRecords) Records() RecordStore {
	return failingRecordStore{s.MemoryStore.Records()}
}

type failingRecordStore struct {
	RecordStore
}

func (failingRecordStore) Create(context.Context, *Record) error {
	return errBoom
}

func TestAllocate_CustomPresenter(t *testing.T) {
	kind := slotKind
	kind.Present = func(rec *Record, unit *Unit) any {
		return map[string]any{"id": rec.ID, "status": kind.Label(rec.Status), "start": unit.StartTime}
	}
	f := newFixture(t, kind)
	u := f.slot(time.Hour, 30*time.Minute)

	out, err := f.allocate(f.request(f.patient(), u))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &body))
	assert.Equal(t, "booked", body["status"])
	assert.Equal(t, out.Record.ID.String(), body["id"])
}
