package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// unitWork carries one unit's intermediate values between stages.
type unitWork struct {
	stage     domain.UnitState
	ageTable  domain.RawTable
	ethTable  domain.RawTable
	hhTable   domain.RawTable
	bundle    domain.PopulationBundle
	household domain.HouseholdSummary
	dropped   int
}

// processUnit takes a unit from Pending to Persisted or Failed. Only the
// fetch stage is retried: normalization and persistence failures are
// deterministic for a given response.
func (o *Orchestrator) processUnit(ctx context.Context, runID string, unit domain.GeographyUnit) domain.UnitResult {
	start := o.opts.Clock.Now()
	logger := o.logger.With("run_id", runID, "state", unit.StateAbbr, "unit", unit.Code)
	w := &unitWork{stage: domain.StatePending}

	attempts, err := o.withRetry(ctx, logger, func() error { return o.fetch(ctx, unit, w) })
	if err == nil {
		w.stage = domain.StateFetched
		err = o.normalize(unit, w)
	}
	if err == nil {
		w.stage = domain.StateNormalized
		err = o.persist(ctx, unit, w)
	}

	elapsed := o.opts.Clock.Since(start)
	o.metrics.UnitDuration.Observe(elapsed.Seconds())
	if w.dropped > 0 {
		o.metrics.LabelsDropped.Add(float64(w.dropped))
	}
	if err != nil {
		o.metrics.FetchErrors.WithLabelValues(errorKind(err)).Inc()
		o.logFailure(logger, "unit failed", err, "stage", string(w.stage), "attempts", attempts)
		res := o.failed(runID, unit, w.stage, attempts, elapsed, err)
		res.Dropped = w.dropped
		return res
	}

	o.metrics.UnitsProcessed.WithLabelValues(string(domain.StatePersisted)).Inc()
	logger.Debug("unit persisted", "attempts", attempts, "dropped", w.dropped, "duration", elapsed)
	return domain.UnitResult{
		RunID:    runID,
		Unit:     unit,
		State:    domain.StatePersisted,
		Attempts: attempts,
		Dropped:  w.dropped,
		Duration: elapsed,
		Finished: o.opts.Clock.Now(),
	}
}

func (o *Orchestrator) fetch(ctx context.Context, unit domain.GeographyUnit, w *unitWork) error {
	var err error
	if w.ageTable, err = o.fetcher.FetchVariables(ctx, o.labels.IDs(), unit); err != nil {
		return fmt.Errorf("fetch age/gender: %w", err)
	}
	if w.ethTable, err = o.fetcher.FetchVariables(ctx, o.rules.Ethnicity.IDs(), unit); err != nil {
		return fmt.Errorf("fetch ethnicity: %w", err)
	}
	if !o.opts.Household {
		return nil
	}
	if w.hhTable, err = o.fetcher.FetchVariables(ctx, o.rules.Household.IDs(), unit); err != nil {
		return fmt.Errorf("fetch household: %w", err)
	}
	return nil
}

func (o *Orchestrator) normalize(unit domain.GeographyUnit, w *unitWork) error {
	ageGender, dropped, err := o.normalizer.ToAgeGender(w.ageTable, o.labels, unit)
	if err != nil {
		return fmt.Errorf("normalize age/gender: %w", err)
	}
	w.dropped = dropped
	ethnicity, err := o.normalizer.ToEthnicity(w.ethTable, o.rules.Ethnicity, unit)
	if err != nil {
		return fmt.Errorf("normalize ethnicity: %w", err)
	}
	w.bundle = domain.PopulationBundle{AgeGender: ageGender, Ethnicity: ethnicity}
	if !o.opts.Household {
		return nil
	}
	if w.household, err = o.normalizer.BuildHouseholdSummary(w.hhTable, ageGender, unit); err != nil {
		return fmt.Errorf("household summary: %w", err)
	}
	return nil
}

// persist writes the side files first and the population bundle last, so a
// bundle on disk marks a fully written unit. If any write fails the unit's
// artifacts are removed, including ones left by an earlier run.
func (o *Orchestrator) persist(ctx context.Context, unit domain.GeographyUnit, w *unitWork) error {
	err := o.writeArtifacts(ctx, unit, w)
	if err == nil {
		return nil
	}
	if rmErr := o.store.RemoveUnit(unit); rmErr != nil {
		o.logger.Error("remove partial artifacts failed", "unit", unit.String(), "error", rmErr)
	}
	return err
}

func (o *Orchestrator) writeArtifacts(ctx context.Context, unit domain.GeographyUnit, w *unitWork) error {
	if err := o.store.WriteAgeGender(ctx, unit, w.bundle.AgeGender); err != nil {
		return fmt.Errorf("write age/gender: %w", err)
	}
	if o.opts.Household {
		if err := o.store.WriteHousehold(ctx, unit, w.household); err != nil {
			return fmt.Errorf("write household: %w", err)
		}
	}
	if err := o.store.WritePopulation(ctx, unit, w.bundle); err != nil {
		return fmt.Errorf("write population: %w", err)
	}
	return nil
}

// withRetry runs fn until it succeeds, fails permanently, or the attempt
// cap is reached, sleeping with exponential backoff between attempts.
// It returns the number of attempts made.
func (o *Orchestrator) withRetry(ctx context.Context, logger *slog.Logger, fn func() error) (int, error) {
	policy := o.opts.Retry
	backoff := policy.Backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if attempt >= policy.MaxAttempts || !domain.Retryable(err) || ctx.Err() != nil {
			return attempt, err
		}

		if domain.RateLimited(err) {
			if t, ok := o.fetcher.(Throttler); ok {
				limit := t.Slowdown()
				logger.Warn("rate limited, lowering request rate", "rate", float64(limit))
			}
		}
		o.metrics.UnitRetries.Inc()
		logger.Warn("retrying after upstream failure", "attempt", attempt, "backoff", backoff, "error", err)

		if err := o.sleep(ctx, backoff); err != nil {
			return attempt, err
		}
		backoff = sharedretry.NextBackoff(backoff, policy.MaxBackoff)
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.opts.Clock.After(d):
		return nil
	}
}
