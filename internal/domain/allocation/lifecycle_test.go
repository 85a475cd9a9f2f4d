package allocation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_LegalityTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusActive, StatusCompleted}: true,
		{StatusActive, StatusCancelled}: true,
		{StatusActive, StatusError}:     true,
		{StatusCompleted, StatusError}:  true,
		{StatusCancelled, StatusError}:  true,
	}

	for _, from := range Statuses {
		for _, to := range append(Statuses, Status("bogus")) {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				f := newFixture(t, slotKind)
				rec := f.seedRecord(from, f.slot(time.Hour, 30*time.Minute))

				got, err := f.engine.Transition(context.Background(), rec.ID, to, "nurse")
				if allowed[[2]Status{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, got.Record.Status)
					assert.Equal(t, "nurse", got.Record.UpdatedBy)
					return
				}

				require.ErrorIs(t, err, ErrInvalidTransition)
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, from, te.From)
				assert.Equal(t, to, te.To)

				stored, err := f.store.Records().Get(context.Background(), rec.ID)
				require.NoError(t, err)
				assert.Equal(t, from, stored.Status, "record must be unchanged")
			})
		}
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, CheckTransition(StatusActive, StatusCompleted))
	assert.ErrorIs(t, CheckTransition(StatusError, StatusCompleted), ErrInvalidTransition)
	assert.NotErrorIs(t, CheckTransition(StatusError, StatusCompleted), ErrAlreadyTerminal)
}

func TestCancel_ReleasesTimeBoundedUnit(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	out, err := f.allocate(f.request(f.patient(), u))
	require.NoError(t, err)

	got, err := f.engine.Cancel(context.Background(), out.Record.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Record.Status)
	require.NotNil(t, got.Record.TerminatedAt)
	assert.False(t, got.Unit.Allocated)
	assert.False(t, f.unit(u.ID).Allocated)
	assert.Equal(t, []string{"appointment.booked", "appointment.cancelled"}, f.publisher.types())
}

func TestComplete_KeepsTimeBoundedUnit(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	out, err := f.allocate(f.request(f.patient(), u))
	require.NoError(t, err)

	got, err := f.engine.Complete(context.Background(), out.Record.ID, "doctor")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Record.Status)
	assert.True(t, got.Unit.Allocated)
	assert.True(t, f.unit(u.ID).Allocated)
}

func TestComplete_ReleasesBed(t *testing.T) {
	f := newFixture(t, bedKind)
	bed := f.bed("A-1")
	out, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)

	_, err = f.engine.Complete(context.Background(), out.Record.ID, "ward-nurse")
	require.NoError(t, err)
	assert.False(t, f.unit(bed.ID).Allocated, "discharge frees the bed")

	next, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	assert.Equal(t, bed.ID, *next.Record.UnitID)
}

func TestMarkError_ReleasesOnlyFromActive(t *testing.T) {
	f := newFixture(t, slotKind)
	u := f.slot(time.Hour, 30*time.Minute)
	out, err := f.allocate(f.request(f.patient(), u))
	require.NoError(t, err)

	_, err = f.engine.MarkError(context.Background(), out.Record.ID, "admin")
	require.NoError(t, err)
	assert.False(t, f.unit(u.ID).Allocated)

	f2 := newFixture(t, slotKind)
	u2 := f2.slot(time.Hour, 30*time.Minute)
	out2, err := f2.allocate(f2.request(f2.patient(), u2))
	require.NoError(t, err)
	_, err = f2.engine.Complete(context.Background(), out2.Record.ID, "doctor")
	require.NoError(t, err)
	_, err = f2.engine.MarkError(context.Background(), out2.Record.ID, "admin")
	require.NoError(t, err)
	assert.True(t, f2.unit(u2.ID).Allocated, "completed slot stays consumed")
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusError} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t, slotKind)
			rec := f.seedRecord(from, f.slot(time.Hour, 30*time.Minute))

			_, err := f.engine.Cancel(context.Background(), rec.ID, "clerk")
			assert.ErrorIs(t, err, ErrAlreadyTerminal)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}

	f := newFixture(t, slotKind)
	rec := f.seedRecord(StatusCancelled, f.slot(time.Hour, 30*time.Minute))
	_, err := f.engine.Cancel(context.Background(), rec.ID, "clerk")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NotErrorIs(t, err, ErrAlreadyTerminal)
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t, slotKind)
	_, err := f.engine.Transition(context.Background(), uuid.New(), StatusCompleted, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_WaitlistedRecord(t *testing.T) {
	f := newFixture(t, bedKind)
	out, err := f.allocate(f.request(f.patient(), nil))
	require.NoError(t, err)
	require.Nil(t, out.Record.UnitID)

	got, err := f.engine.Cancel(context.Background(), out.Record.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Record.Status)
	assert.Nil(t, got.Unit)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, slotKind)
	patient := f.patient()
	u1 := f.slot(time.Hour, 30*time.Minute)
	u2 := f.slot(2*time.Hour, 30*time.Minute)

	a, err := f.allocate(f.request(patient, u1))
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	b, err := f.allocate(f.request(f.patient(), u2))
	require.NoError(t, err)
	_, err = f.engine.Cancel(context.Background(), b.Record.ID, "clerk")
	require.NoError(t, err)

	got, err := f.engine.Get(context.Background(), a.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, u1.ID, got.Unit.ID)

	all, total, err := f.engine.List(context.Background(), RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, b.Record.ID, all[0].Record.ID, "newest first")

	active := StatusActive
	mine, total, err := f.engine.List(context.Background(), RecordFilter{RequesterID: &patient, Status: &active})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, a.Record.ID, mine[0].Record.ID)

	paged, total, err := f.engine.List(context.Background(), RecordFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, paged, 1)
	assert.Equal(t, a.Record.ID, paged[0].Record.ID)
}
