package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/events"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
	"github.com/healthcore/healthcore/internal/platform/telemetry"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithPublisher(p events.Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *telemetry.Provider) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// Engine allocates units of one kind and drives the lifecycle of the
// resulting records. All collaborators are injected; the engine holds no
// package-level state.
type Engine struct {
	kind       Kind
	store      Store
	requesters identity.Resolver
	ledger     idempotency.Ledger

	publisher events.Publisher
	metrics   *telemetry.Provider
	logger    zerolog.Logger
	now       func() time.Time

	inflight singleflight.Group
}

func NewEngine(kind Kind, store Store, requesters identity.Resolver, ledger idempotency.Ledger, opts ...EngineOption) *Engine {
	e := &Engine{
		kind:       kind,
		store:      store,
		requesters: requesters,
		ledger:     ledger,
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With().Str("kind", kind.Name).Logger()
	return e
}

func (e *Engine) Kind() Kind {
	return e.kind
}

// Allocate claims a unit for the requester and records the allocation. With
// an idempotency key, a repeated request from the same actor returns the
// stored response instead of allocating again.
func (e *Engine) Allocate(ctx context.Context, req Request) (*Outcome, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return e.allocate(ctx, req)
	}

	// The shared call outlives any single caller; each caller stops
	// waiting when its own context ends.
	actor := ledgerIdentity(req)
	flight := actor + "\x00" + req.IdempotencyKey + "\x00" + req.Path
	shared := context.WithoutCancel(ctx)
	ch := e.inflight.DoChan(flight, func() (interface{}, error) {
		return e.allocateOnce(shared, req, actor)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Outcome), nil
	}
}

func (e *Engine) validate(req Request) error {
	c := req.Criteria
	if req.RequesterID == uuid.Nil {
		return fmt.Errorf("%w: %s id is required", ErrInvalidRequest, e.kind.Requester)
	}
	if c.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	if (c.Start == nil) != (c.End == nil) {
		return fmt.Errorf("%w: start and end must be given together", ErrInvalidRequest)
	}
	if c.Start != nil {
		if !e.kind.OnDemand {
			return fmt.Errorf("%w: %s units cannot be created on demand", ErrInvalidRequest, e.kind.UnitName)
		}
		if c.UnitID != nil {
			return fmt.Errorf("%w: give either a %s id or start and end", ErrInvalidRequest, e.kind.UnitName)
		}
		if !c.Start.Before(*c.End) {
			return fmt.Errorf("%w: start must be before end", ErrInvalidRequest)
		}
	}
	return nil
}

func ledgerIdentity(req Request) string {
	if req.Actor != "" {
		return req.Actor
	}
	return req.RequesterID.String()
}

func (e *Engine) allocateOnce(ctx context.Context, req Request, actor string) (*Outcome, error) {
	entry, err := e.ledger.Get(ctx, actor, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("read idempotency entry: %w", err)
	}
	if entry != nil {
		return e.replay(entry, req.Path)
	}

	out, err := e.allocate(ctx, req)
	if err != nil {
		return nil, err
	}

	err = e.ledger.Put(ctx, &idempotency.Entry{
		Identity:   actor,
		Key:        req.IdempotencyKey,
		Path:       req.Path,
		StatusCode: out.StatusCode,
		Body:       out.Body,
		CreatedAt:  e.now(),
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicate):
		// Another process stored a response for this key first. Its
		// allocation is the one the caller sees, so ours is undone.
		e.compensate(ctx, out.Record)
		stored, getErr := e.ledger.Get(ctx, actor, req.IdempotencyKey)
		if getErr != nil {
			return nil, fmt.Errorf("re-read idempotency entry: %w", getErr)
		}
		if stored == nil {
			return nil, fmt.Errorf("re-read idempotency entry: %w: stored entry expired", idempotency.ErrDuplicate)
		}
		return e.replay(stored, req.Path)
	case err != nil:
		// The allocation is committed; a retry will see the unit taken.
		e.logger.Error().Err(err).Str("record_id", out.Record.ID.String()).Msg("failed to store idempotency entry")
	}
	return out, nil
}

// compensate cancels a record created by the losing side of an
// idempotency race, releasing its unit.
func (e *Engine) compensate(ctx context.Context, rec *Record) {
	if _, err := e.Cancel(ctx, rec.ID, SystemActor); err != nil {
		e.logger.Error().Err(err).Str("record_id", rec.ID.String()).Msg("failed to undo duplicate allocation")
		return
	}
	e.logger.Warn().Str("record_id", rec.ID.String()).Msg("undid allocation that lost an idempotency race")
}

func (e *Engine) replay(entry *idempotency.Entry, path string) (*Outcome, error) {
	if entry.Path != path {
		return nil, ErrIdempotencyKeyReused
	}
	e.metrics.RecordReplay(e.kind.Name)
	return &Outcome{StatusCode: entry.StatusCode, Body: entry.Body, Replayed: true}, nil
}

func (e *Engine) allocate(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now()
	rec, unit, err := e.commit(ctx, req)
	e.metrics.RecordAllocation(e.kind.Name, outcomeLabel(rec, err), time.Since(started))
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(e.kind.View(rec, unit))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.kind.ResourceType, err)
	}

	e.publish(ctx, req.Actor, rec, unit)
	e.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("requester_id", rec.RequesterID.String()).
		Bool("waitlisted", rec.UnitID == nil).
		Msg("allocation created")

	return &Outcome{Record: rec, Unit: unit, StatusCode: http.StatusCreated, Body: body}, nil
}

// commit runs the claim and the record insert in one transaction.
func (e *Engine) commit(ctx context.Context, req Request) (*Record, *Unit, error) {
	requester, err := e.requesters.GetRequester(ctx, e.kind.Requester, req.RequesterID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", e.kind.Requester, err)
	}
	if requester == nil || !requester.Active {
		return nil, nil, fmt.Errorf("%w: %s does not exist", ErrRequesterNotFound, e.kind.Requester)
	}

	now := e.now()
	var rec *Record
	var unit *Unit
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		unit, err = e.claim(ctx, req.Criteria, now)
		if err != nil {
			return err
		}

		rec = &Record{
			ID:          uuid.New(),
			RequesterID: req.RequesterID,
			OwnerID:     req.Criteria.OwnerID,
			Status:      StatusActive,
			Notes:       req.Notes,
			Attributes:  req.Attributes,
			CreatedAt:   now,
			UpdatedAt:   now,
			UpdatedBy:   req.Actor,
		}
		if unit != nil {
			rec.UnitID = &unit.ID
		}
		if err := e.store.Records().Create(ctx, rec); err != nil {
			if errors.Is(err, ErrConflict) {
				return e.unavailable("%s is already held", e.kind.UnitName)
			}
			return fmt.Errorf("create %s: %w", e.kind.ResourceType, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, unit, nil
}

// claim resolves the unit named by c and flips it to allocated. A nil unit
// with a nil error means the record is waitlisted.
func (e *Engine) claim(ctx context.Context, c Criteria, now time.Time) (*Unit, error) {
	units := e.store.Units()

	eligible, err := units.OwnerEligible(ctx, c.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("check owner: %w", err)
	}
	if !eligible {
		return nil, e.unavailable("%s owner is not accepting allocations", e.kind.UnitName)
	}

	var unit *Unit
	switch {
	case c.UnitID != nil:
		unit, err = units.Get(ctx, *c.UnitID)
		if errors.Is(err, ErrNotFound) {
			return nil, e.unavailable("%s does not exist", e.kind.UnitName)
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", e.kind.UnitName, err)
		}
		if unit.OwnerID != c.OwnerID {
			return nil, e.unavailable("%s belongs to a different owner", e.kind.UnitName)
		}

	case c.Start != nil:
		unit, _, err = units.Create(ctx, &Unit{
			OwnerID:   c.OwnerID,
			StartTime: c.Start,
			EndTime:   c.End,
			Active:    true,
		})
		if errors.Is(err, ErrConflict) {
			return nil, e.unavailable("%s overlaps an existing booking", e.kind.UnitName)
		}
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", e.kind.UnitName, err)
		}

	default:
		unit, err = units.FindAvailable(ctx, c, now)
		if errors.Is(err, ErrNotFound) {
			if e.kind.Waitlist {
				return nil, nil
			}
			return nil, e.unavailable("no available %s", e.kind.UnitName)
		}
		if err != nil {
			return nil, fmt.Errorf("find available %s: %w", e.kind.UnitName, err)
		}
	}

	if !unit.Available() {
		return nil, e.unavailable("%s is not available", e.kind.UnitName)
	}
	if unit.TimeBounded() && !unit.EndTime.After(now) {
		return nil, e.unavailable("%s has already ended", e.kind.UnitName)
	}

	claimed, err := units.MarkAllocated(ctx, unit.ID)
	if errors.Is(err, ErrConflict) {
		return nil, e.unavailable("%s was taken by a concurrent request", e.kind.UnitName)
	}
	if err != nil {
		return nil, fmt.Errorf("mark %s allocated: %w", e.kind.UnitName, err)
	}
	return claimed, nil
}

func (e *Engine) unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceUnavailable, fmt.Sprintf(format, args...))
}

func outcomeLabel(rec *Record, err error) string {
	switch {
	case err == nil && rec != nil && rec.UnitID == nil:
		return "waitlisted"
	case err == nil:
		return "allocated"
	case errors.Is(err, ErrResourceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRequesterNotFound):
		return "requester_not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

// publish sends the event for rec's current status. Failures are logged and
// dropped; the change is already committed.
func (e *Engine) publish(ctx context.Context, actor string, rec *Record, unit *Unit) {
	if e.publisher == nil {
		return
	}
	details := map[string]string{
		"requester_id": rec.RequesterID.String(),
		"owner_id":     rec.OwnerID.String(),
		"status":       e.kind.Label(rec.Status),
	}
	if unit != nil {
		details[e.kind.UnitName+"_id"] = unit.ID.String()
	}
	raw, _ := json.Marshal(details)

	eventType := e.kind.EventType(rec.Status)
	err := e.publisher.Publish(ctx, eventType, rec.ID.String(), events.Payload{
		ActorID:      actor,
		TargetID:     rec.ID.String(),
		ResourceType: e.kind.ResourceType,
		Action:       e.kind.Label(rec.Status),
		Details:      string(raw),
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Str("record_id", rec.ID.String()).Msg("failed to publish event")
	}
}
