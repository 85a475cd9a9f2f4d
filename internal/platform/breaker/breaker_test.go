package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errDown    = errors.New("connection refused")
	errOutcome = errors.New("unit taken")
)

func testBreaker(p Policy) *Breaker {
	return New("test", p, func(err error) bool {
		return err == nil || errors.Is(err, errOutcome)
	}, zerolog.Nop(), nil)
}

func TestBreaker_TripsAfterMaxFailures(t *testing.T) {
	b := testBreaker(Policy{MaxFailures: 3, ResetTimeout: time.Hour, HalfOpenProbes: 1})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errDown }), errDown)
	}
	assert.Equal(t, "open", b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not call through")
}

func TestBreaker_OutcomeErrorsDoNotTrip(t *testing.T) {
	b := testBreaker(Policy{MaxFailures: 2, ResetTimeout: time.Hour, HalfOpenProbes: 1})

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errOutcome }), errOutcome)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	var states []int
	b := New("probe", Policy{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenProbes: 1},
		nil, zerolog.Nop(), func(_ string, s int) { states = append(states, s) })

	require.Error(t, b.Do(func() error { return errDown }))
	assert.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "half-open", b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, []int{2, 1, 0}, states)
}

func TestCall_ReturnsValue(t *testing.T) {
	b := testBreaker(DefaultPolicy())

	v, err := Call(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Call(b, func() (int, error) { return 0, errOutcome })
	assert.ErrorIs(t, err, errOutcome)
	assert.Zero(t, v)
}
