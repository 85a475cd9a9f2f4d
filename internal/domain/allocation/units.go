package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateUnit registers a unit administratively. Creation is idempotent on
// the unit's identity; created is false when an identical unit existed.
func (e *Engine) CreateUnit(ctx context.Context, u *Unit) (unit *Unit, created bool, err error) {
	if u.OwnerID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	if e.kind.TimeBounded {
		if u.StartTime == nil || u.EndTime == nil {
			return nil, false, fmt.Errorf("%w: start and end are required", ErrInvalidRequest)
		}
		if !u.StartTime.Before(*u.EndTime) {
			return nil, false, fmt.Errorf("%w: start must be before end", ErrInvalidRequest)
		}
		start, end := u.StartTime.UTC(), u.EndTime.UTC()
		u.StartTime, u.EndTime = &start, &end
	} else {
		u.Label = strings.TrimSpace(u.Label)
		if u.Label == "" {
			return nil, false, fmt.Errorf("%w: %s number is required", ErrInvalidRequest, e.kind.UnitName)
		}
		u.StartTime, u.EndTime = nil, nil
	}
	u.Allocated = false
	u.Active = true

	unit, created, err = e.store.Units().Create(ctx, u)
	if err != nil {
		return nil, false, fmt.Errorf("create %s: %w", e.kind.UnitName, err)
	}
	if created {
		e.logger.Info().Str("unit_id", unit.ID.String()).Str("owner_id", unit.OwnerID.String()).Msg("unit created")
	}
	return unit, created, nil
}

// DeactivateUnit soft-deletes a unit. Allocated units cannot be deactivated.
func (e *Engine) DeactivateUnit(ctx context.Context, id uuid.UUID) (*Unit, error) {
	var unit *Unit
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		unit, err = e.store.Units().Deactivate(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("unit_id", id.String()).Msg("unit deactivated")
	return unit, nil
}

// ListUnits excludes inactive units unless the filter asks for them.
func (e *Engine) ListUnits(ctx context.Context, f UnitFilter) ([]*Unit, int, error) {
	return e.store.Units().List(ctx, f)
}
