// Package breaker provides a configurable circuit-breaker policy for calls
// into infrastructure that can fail as a whole (the resource store).
package breaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned without calling through while the breaker is open or
// its half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker open")

// Policy configures when the breaker trips and how it recovers.
type Policy struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenProbes is how many calls may pass while half-open.
	HalfOpenProbes uint32
}

func DefaultPolicy() Policy {
	return Policy{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenProbes: 1}
}

// StateObserver receives state changes, e.g. to export a gauge.
type StateObserver func(name string, state int)

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a breaker. isSuccessful decides which errors are outcomes of
// the call rather than failures of the dependency; nil counts every error.
func New(name string, p Policy, isSuccessful func(error) bool, logger zerolog.Logger, observe StateObserver) *Breaker {
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: p.HalfOpenProbes,
		Timeout:     p.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= p.MaxFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			if observe != nil {
				observe(name, int(to))
			}
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return translate(err)
}

// Call runs fn through b and returns its value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if tv, ok := v.(T); ok {
			zero = tv
		}
		return zero, translate(err)
	}
	return v.(T), nil
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}
