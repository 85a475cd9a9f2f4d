package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/notification"
	"github.com/healthcore/healthcore/internal/platform/telemetry"
)

// SystemActor stamps changes made by background jobs.
const SystemActor = "system"

const (
	JobAutoComplete = "autocomplete"
	JobHorizon      = "horizon"
	JobReminders    = "reminders"
)

// Jobs lists the sweeper jobs in the order they run.
var Jobs = []string{JobAutoComplete, JobHorizon, JobReminders}

var ErrUnknownJob = errors.New("unknown sweep job")

// SweepAutoComplete completes every active record whose unit has ended and
// publishes a completion event for each. Units stay consumed. Binary kinds
// have no end time and are skipped.
func (e *Engine) SweepAutoComplete(ctx context.Context) (int, error) {
	if !e.kind.TimeBounded {
		return 0, nil
	}
	now := e.now()

	var done []*Record
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		done, err = e.store.Records().CompleteExpired(ctx, now, SystemActor)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("complete expired %s: %w", e.kind.ResourceType, err)
	}

	for _, rec := range done {
		e.metrics.RecordTransition(e.kind.Name, string(StatusActive), string(StatusCompleted))
		e.publish(ctx, SystemActor, rec, nil)
	}
	return len(done), nil
}

// SweepGenerateHorizon creates the units plan calls for across every
// horizon owner. Existing units are left alone, so repeated runs create
// nothing new.
func (e *Engine) SweepGenerateHorizon(ctx context.Context, plan HorizonPlan) (int, error) {
	if !e.kind.Horizon {
		return 0, nil
	}
	owners, err := e.store.Units().HorizonOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("list horizon owners: %w", err)
	}

	now := e.now()
	created := 0
	for _, owner := range owners {
		n, err := e.store.Units().EnsureUnits(ctx, PlanUnits(owner, plan, now))
		if err != nil {
			return created, fmt.Errorf("ensure units for %s: %w", owner, err)
		}
		created += n
	}
	return created, nil
}

// SweepReminders dispatches the kind's reminder template for every active
// record whose unit starts within window. Dispatch failures are logged and
// do not stop the scan.
func (e *Engine) SweepReminders(ctx context.Context, n notification.Dispatcher, window time.Duration, loc *time.Location) (int, error) {
	if e.kind.ReminderTemplate == "" || n == nil {
		return 0, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	now := e.now()

	due, err := e.store.Records().ListStartingBetween(ctx, now, now.Add(window))
	if err != nil {
		return 0, fmt.Errorf("list upcoming %s: %w", e.kind.ResourceType, err)
	}

	sent := 0
	for _, a := range due {
		if a.Unit == nil || a.Unit.StartTime == nil {
			continue
		}
		start := a.Unit.StartTime.In(loc)
		data := map[string]string{
			"patient_name": e.displayName(ctx, e.kind.Requester, a.Record.RequesterID.String(), a.Record.RequesterID),
			"date":         start.Format("2006-01-02"),
			"time":         start.Format("15:04"),
			"provider":     a.Record.OwnerID.String(),
		}
		if e.kind.OwnerRole != "" {
			data["provider"] = e.displayName(ctx, e.kind.OwnerRole, data["provider"], a.Record.OwnerID)
		}

		if _, err := n.Dispatch(ctx, e.kind.ReminderTemplate, a.Record.RequesterID.String(), data); err != nil {
			e.logger.Warn().Err(err).Str("record_id", a.Record.ID.String()).Msg("reminder not delivered")
			continue
		}
		sent++
	}
	return sent, nil
}

// SweeperConfig holds the job intervals and parameters.
type SweeperConfig struct {
	AutoCompleteInterval time.Duration
	HorizonInterval      time.Duration
	ReminderInterval     time.Duration
	ReminderWindow       time.Duration
	Horizon              HorizonPlan
}

// Sweeper runs the periodic jobs across every engine.
type Sweeper struct {
	cfg      SweeperConfig
	engines  []*Engine
	notifier notification.Dispatcher
	metrics  *telemetry.Provider
	logger   zerolog.Logger
}

func NewSweeper(cfg SweeperConfig, engines []*Engine, notifier notification.Dispatcher, metrics *telemetry.Provider, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		engines:  engines,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

func (s *Sweeper) AutoComplete(ctx context.Context) (int, error) {
	return s.each(ctx, JobAutoComplete, func(e *Engine) (int, error) {
		return e.SweepAutoComplete(ctx)
	})
}

func (s *Sweeper) GenerateHorizon(ctx context.Context) (int, error) {
	return s.each(ctx, JobHorizon, func(e *Engine) (int, error) {
		return e.SweepGenerateHorizon(ctx, s.cfg.Horizon)
	})
}

func (s *Sweeper) Reminders(ctx context.Context) (int, error) {
	return s.each(ctx, JobReminders, func(e *Engine) (int, error) {
		return e.SweepReminders(ctx, s.notifier, s.cfg.ReminderWindow, s.cfg.Horizon.Location)
	})
}

// RunJob runs one job by name and returns how many items it touched.
func (s *Sweeper) RunJob(ctx context.Context, job string) (int, error) {
	switch job {
	case JobAutoComplete:
		return s.AutoComplete(ctx)
	case JobHorizon:
		return s.GenerateHorizon(ctx)
	case JobReminders:
		return s.Reminders(ctx)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownJob, job)
}

// each runs fn for every engine. An engine failing does not stop the others;
// the first error is returned with the total.
func (s *Sweeper) each(ctx context.Context, job string, fn func(e *Engine) (int, error)) (int, error) {
	total := 0
	var firstErr error
	for _, e := range s.engines {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := fn(e)
		s.metrics.RecordSweep(job, e.kind.Name, n, err)
		total += n
		if err != nil {
			s.logger.Error().Err(err).Str("job", job).Str("kind", e.kind.Name).Msg("sweep failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

// Run starts every job loop and blocks until ctx is cancelled. Each job runs
// once immediately and then on its interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Msg("starting sweeper")
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range []struct {
		name     string
		interval time.Duration
	}{
		{JobAutoComplete, s.cfg.AutoCompleteInterval},
		{JobHorizon, s.cfg.HorizonInterval},
		{JobReminders, s.cfg.ReminderInterval},
	} {
		j := j
		if j.interval <= 0 {
			continue
		}
		g.Go(func() error {
			s.loop(ctx, j.name, j.interval)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info().Msg("sweeper stopped")
	return err
}

func (s *Sweeper) loop(ctx context.Context, job string, interval time.Duration) {
	s.runLogged(ctx, job)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runLogged(ctx, job)
			timer.Reset(interval)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context, job string) {
	started := time.Now()
	n, err := s.RunJob(ctx, job)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("job", job).Int("items", n).Msg("sweep cycle failed")
		return
	}
	s.logger.Info().Str("job", job).Int("items", n).Dur("took", time.Since(started)).Msg("sweep cycle finished")
}

func (e *Engine) displayName(ctx context.Context, role identity.Role, fallback string, id uuid.UUID) string {
	r, err := e.requesters.GetRequester(ctx, role, id)
	if err != nil || r == nil || r.DisplayName == "" {
		return fallback
	}
	return r.DisplayName
}
