package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Transition moves a record to a new status under the legality table,
// stamping the actor, and releases the unit when the move frees it.
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, to Status, actor string) (*Allocation, error) {
	return e.transition(ctx, id, to, actor, false)
}

// Cancel is Transition to cancelled that fails with ErrAlreadyTerminal when
// the record is already completed or in error.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, actor string) (*Allocation, error) {
	return e.transition(ctx, id, StatusCancelled, actor, true)
}

func (e *Engine) Complete(ctx context.Context, id uuid.UUID, actor string) (*Allocation, error) {
	return e.transition(ctx, id, StatusCompleted, actor, false)
}

// MarkError flags a record as entered in error.
func (e *Engine) MarkError(ctx context.Context, id uuid.UUID, actor string) (*Allocation, error) {
	return e.transition(ctx, id, StatusError, actor, false)
}

func (e *Engine) transition(ctx context.Context, id uuid.UUID, to Status, actor string, cancel bool) (*Allocation, error) {
	var from Status
	var result *Allocation
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		rec, err := e.store.Records().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = rec.Status

		if cancel && (from == StatusCompleted || from == StatusError) {
			return &TransitionError{From: from, To: to, terminal: true}
		}
		if err := CheckTransition(from, to); err != nil {
			return err
		}

		now := e.now()
		rec.Status = to
		rec.UpdatedAt = now
		rec.UpdatedBy = actor
		if rec.TerminatedAt == nil {
			rec.TerminatedAt = &now
		}
		if err := e.store.Records().UpdateStatus(ctx, rec); err != nil {
			return fmt.Errorf("update %s: %w", e.kind.ResourceType, err)
		}

		var unit *Unit
		if rec.UnitID != nil {
			if e.kind.Releases(from, to) {
				unit, err = e.store.Units().Release(ctx, *rec.UnitID)
				if err != nil {
					return fmt.Errorf("release %s: %w", e.kind.UnitName, err)
				}
			} else {
				unit, err = e.store.Units().Get(ctx, *rec.UnitID)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("get %s: %w", e.kind.UnitName, err)
				}
			}
		}
		result = &Allocation{Record: rec, Unit: unit}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordTransition(e.kind.Name, string(from), string(to))
	e.publish(ctx, actor, result.Record, result.Unit)
	e.logger.Info().
		Str("record_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("allocation transitioned")
	return result, nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Allocation, error) {
	rec, err := e.store.Records().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.withUnit(ctx, rec)
}

// List returns matching records with their units and the total match count.
func (e *Engine) List(ctx context.Context, f RecordFilter) ([]*Allocation, int, error) {
	recs, total, err := e.store.Records().List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Allocation, 0, len(recs))
	for _, rec := range recs {
		a, err := e.withUnit(ctx, rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, nil
}

func (e *Engine) withUnit(ctx context.Context, rec *Record) (*Allocation, error) {
	a := &Allocation{Record: rec}
	if rec.UnitID == nil {
		return a, nil
	}
	unit, err := e.store.Units().Get(ctx, *rec.UnitID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get %s: %w", e.kind.UnitName, err)
	}
	a.Unit = unit
	return a, nil
}
