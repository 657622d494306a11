package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/census-population-etl/internal/domain"
	"github.com/couchcryptid/census-population-etl/internal/observability"
)

// Fetcher reads units and their variables from the upstream API.
type Fetcher interface {
	EnumerateUnits(ctx context.Context, kind domain.Kind, state domain.State) ([]domain.GeographyUnit, error)
	FetchVariables(ctx context.Context, variables []string, unit domain.GeographyUnit) (domain.RawTable, error)
}

// Throttler is implemented by fetchers whose request rate can be lowered
// when upstream answers 429.
type Throttler interface {
	Slowdown() rate.Limit
}

// Store persists unit artifacts. RemoveUnit deletes whatever a failed
// persist left behind.
type Store interface {
	WritePopulation(ctx context.Context, unit domain.GeographyUnit, b domain.PopulationBundle) error
	WriteAgeGender(ctx context.Context, unit domain.GeographyUnit, records []domain.AgeGenderRecord) error
	WriteHousehold(ctx context.Context, unit domain.GeographyUnit, summary domain.HouseholdSummary) error
	RemoveUnit(unit domain.GeographyUnit) error
}

// Notifier receives every terminal unit result.
type Notifier interface {
	Notify(ctx context.Context, result domain.UnitResult) error
}

// RetryPolicy bounds the Failed -> Pending transition. Only retryable
// upstream errors are retried; MaxAttempts of 1 means log and skip.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy starts at 200ms and doubles up to 5s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     200 * time.Millisecond,
	MaxBackoff:  5 * time.Second,
}

// Options configures an Orchestrator.
type Options struct {
	Kind            domain.Kind
	StateWorkers    int
	UnitConcurrency int
	Retry           RetryPolicy
	Household       bool
	Clock           clockwork.Clock
	Notifier        Notifier
}

// notifyTimeout bounds one result publish. Publishing is detached from the
// run context so results of a canceled run still reach consumers.
const notifyTimeout = 5 * time.Second

// Orchestrator drives per-state enumeration and per-unit
// fetch -> normalize -> persist work with bounded concurrency at both
// levels. A unit's failure is recorded in the run report and never aborts
// its siblings.
type Orchestrator struct {
	fetcher    Fetcher
	store      Store
	rules      *domain.Rules
	labels     domain.LabelMap
	normalizer *domain.Normalizer
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	progress   progressTracker
}

// New builds an Orchestrator. rules and labels must be fully constructed;
// they are shared read-only by every worker.
func New(fetcher Fetcher, store Store, rules *domain.Rules, labels domain.LabelMap, opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidGeographyKind, int(opts.Kind))
	}
	if len(labels) == 0 {
		return nil, errors.New("age/gender label map is empty")
	}
	if opts.StateWorkers < 1 {
		opts.StateWorkers = 1
	}
	if opts.UnitConcurrency < 1 {
		opts.UnitConcurrency = 1
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.MaxBackoff < opts.Retry.Backoff {
		opts.Retry.MaxBackoff = opts.Retry.Backoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		fetcher:    fetcher,
		store:      store,
		rules:      rules,
		labels:     labels,
		normalizer: domain.NewNormalizer(rules),
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// CheckReadiness returns nil once a run has started, which implies the rules
// and the label catalog are loaded.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("orchestrator has not started a run yet")
	}
	return nil
}

// Progress reports the counts of the current or most recent run.
func (o *Orchestrator) Progress() Progress {
	return o.progress.snapshot()
}

// RunState processes a single state, looked up by FIPS code or abbreviation.
func (o *Orchestrator) RunState(ctx context.Context, key string) (*Report, error) {
	state, err := o.rules.LookupState(key)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, []domain.State{state}), nil
}

// RunBatch processes batch n (1-indexed) of the state partition.
func (o *Orchestrator) RunBatch(ctx context.Context, n, size int) (*Report, error) {
	plan, err := NewBatchPlan(o.rules.States, size)
	if err != nil {
		return nil, err
	}
	states, err := plan.Batch(n)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, states), nil
}

// Run processes states with a bounded pool of state workers and returns
// once every unit has reached Persisted or Failed. Cancelling ctx stops
// new work; units that never started are reported Failed with the context
// error.
func (o *Orchestrator) Run(ctx context.Context, states []domain.State) *Report {
	o.ready.Store(true)
	o.metrics.RunRunning.Set(1)
	defer o.metrics.RunRunning.Set(0)

	report := &Report{
		RunID:   uuid.NewString(),
		Kind:    o.opts.Kind,
		Started: o.opts.Clock.Now(),
	}
	for _, s := range states {
		report.States = append(report.States, s.Abbr)
	}
	o.progress.start(report.RunID, o.opts.Kind, len(states))
	defer o.progress.stop()
	o.logger.Info("run started", "run_id", report.RunID, "kind", o.opts.Kind.String(),
		"states", len(states), "workers", o.opts.StateWorkers, "unit_concurrency", o.opts.UnitConcurrency)

	results := make(chan domain.UnitResult, o.opts.UnitConcurrency*o.opts.StateWorkers)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range results {
			report.add(res)
			o.progress.record(res)
			o.notify(ctx, res)
		}
	}()

	queue := make(chan domain.State, o.opts.StateWorkers)
	go func() {
		defer close(queue)
		for i, s := range states {
			select {
			case queue <- s:
			case <-ctx.Done():
				for _, skipped := range states[i:] {
					results <- o.stateFailure(report.RunID, skipped, domain.StatePending, 0, ctx.Err())
				}
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range o.opts.StateWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for state := range queue {
				o.runState(ctx, report.RunID, state, results)
			}
		}()
	}
	wg.Wait()
	close(results)
	<-collected

	report.finish(o.opts.Clock.Now(), ctx.Err() != nil)
	o.logger.Info("run finished", "run_id", report.RunID, "persisted", report.Persisted,
		"failed", len(report.Failed), "failed_states", len(report.FailedStates), "retries", report.Retries, "dropped_labels", report.DroppedLabels,
		"canceled", report.Canceled)
	return report
}

// runState enumerates one state and fans its units out under the unit
// concurrency limit.
func (o *Orchestrator) runState(ctx context.Context, runID string, state domain.State, results chan<- domain.UnitResult) {
	o.metrics.StatesInFlight.Inc()
	defer o.metrics.StatesInFlight.Dec()

	logger := o.logger.With("state", state.Abbr, "run_id", runID)
	if err := ctx.Err(); err != nil {
		results <- o.stateFailure(runID, state, domain.StatePending, 0, err)
		return
	}

	var units []domain.GeographyUnit
	attempts, err := o.withRetry(ctx, logger.With("unit", state.Abbr+"/*"), func() error {
		var err error
		units, err = o.fetcher.EnumerateUnits(ctx, o.opts.Kind, state)
		return err
	})
	if err != nil {
		o.logFailure(logger, "enumeration failed", err, "attempts", attempts)
		results <- o.stateFailure(runID, state, domain.StatePending, attempts, err)
		return
	}
	logger.Info("state enumerated", "units", len(units))

	var g errgroup.Group
	g.SetLimit(o.opts.UnitConcurrency)
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			results <- o.failed(runID, unit, domain.StatePending, 0, 0, err)
			continue
		}
		g.Go(func() error {
			results <- o.processUnit(ctx, runID, unit)
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("state finished", "units", len(units))
}

func (o *Orchestrator) notify(ctx context.Context, res domain.UnitResult) {
	if o.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := o.opts.Notifier.Notify(ctx, res); err != nil {
		o.logger.Warn("notify unit result failed", "unit", res.Unit.String(), "error", err)
	}
}

// stateFailure reports a whole state that produced no unit results. It is
// counted apart from unit failures.
func (o *Orchestrator) stateFailure(runID string, state domain.State, stage domain.UnitState, attempts int, err error) domain.UnitResult {
	o.metrics.StatesFailed.Inc()
	return domain.UnitResult{
		RunID:    runID,
		Unit:     domain.GeographyUnit{Kind: o.opts.Kind, Code: domain.WholeState, StateFIPS: state.FIPS, StateAbbr: state.Abbr},
		State:    domain.StateFailed,
		Stage:    stage,
		Attempts: attempts,
		Error:    err.Error(),
		Finished: o.opts.Clock.Now(),
		Err:      err,
	}
}

func (o *Orchestrator) failed(runID string, unit domain.GeographyUnit, stage domain.UnitState, attempts int, elapsed time.Duration, err error) domain.UnitResult {
	o.metrics.UnitsProcessed.WithLabelValues(string(domain.StateFailed)).Inc()
	return domain.UnitResult{
		RunID:    runID,
		Unit:     unit,
		State:    domain.StateFailed,
		Stage:    stage,
		Attempts: attempts,
		Error:    err.Error(),
		Duration: elapsed,
		Finished: o.opts.Clock.Now(),
		Err:      err,
	}
}

// logFailure logs schema drift distinctly from network failures.
func (o *Orchestrator) logFailure(logger *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err, "status", domain.StatusCode(err))
	switch {
	case errors.Is(err, domain.ErrMalformedResponse):
		logger.Error(msg+": malformed response", args...)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		logger.Error(msg+": upstream unavailable", args...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn(msg+": canceled", args...)
	default:
		logger.Error(msg, args...)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
