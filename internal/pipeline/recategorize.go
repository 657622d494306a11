package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// Archive is the persisted population tree walked by Recategorize.
type Archive interface {
	ListStates(a domain.Artifact) ([]string, error)
	ListUnitCodes(a domain.Artifact, stateAbbr string) ([]string, error)
	Unit(state domain.State, code string) domain.GeographyUnit
	LoadPopulation(unit domain.GeographyUnit) (domain.PopulationBundle, error)
	WritePopulation(ctx context.Context, unit domain.GeographyUnit, b domain.PopulationBundle) error
}

// RecategorizeReport summarizes a recategorization pass.
type RecategorizeReport struct {
	Rewritten int                 `json:"rewritten"`
	Unchanged int                 `json:"unchanged"`
	Failed    []domain.UnitResult `json:"failed"`
}

// Recategorize rewrites persisted population bundles through the ethnicity
// policy. Bundles already in canonical form are left untouched, so the pass
// can be repeated safely. When states is empty every state on disk is
// visited. A unit that fails to load or write is recorded and skipped.
func Recategorize(ctx context.Context, archive Archive, rules *domain.Rules, states []domain.State, logger *slog.Logger) (RecategorizeReport, error) {
	var report RecategorizeReport
	if len(states) == 0 {
		abbrs, err := archive.ListStates(domain.ArtifactPopulation)
		if err != nil {
			return report, fmt.Errorf("list states: %w", err)
		}
		for _, abbr := range abbrs {
			state, err := rules.LookupState(abbr)
			if err != nil {
				logger.Warn("skipping unknown state directory", "state", abbr)
				continue
			}
			states = append(states, state)
		}
	}

	for _, state := range states {
		codes, err := archive.ListUnitCodes(domain.ArtifactPopulation, state.Abbr)
		if err != nil {
			return report, fmt.Errorf("list units of %s: %w", state.Abbr, err)
		}
		for _, code := range codes {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			unit := archive.Unit(state, code)
			changed, err := recategorizeUnit(ctx, archive, rules.EthnicityPolicy, unit)
			switch {
			case err != nil:
				logger.Error("recategorize failed", "unit", unit.String(), "error", err)
				report.Failed = append(report.Failed, domain.UnitResult{
					Unit:  unit,
					State: domain.StateFailed,
					Error: err.Error(),
					Err:   err,
				})
			case changed:
				report.Rewritten++
			default:
				report.Unchanged++
			}
		}
		logger.Info("state recategorized", "state", state.Abbr, "units", len(codes))
	}
	return report, nil
}

func recategorizeUnit(ctx context.Context, archive Archive, policy domain.EthnicityPolicy, unit domain.GeographyUnit) (bool, error) {
	bundle, err := archive.LoadPopulation(unit)
	if err != nil {
		return false, err
	}
	if policy.Canonical(bundle) {
		return false, nil
	}
	if err := archive.WritePopulation(ctx, unit, policy.Apply(bundle)); err != nil {
		return false, err
	}
	return true, nil
}
