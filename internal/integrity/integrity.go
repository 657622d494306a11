// Package integrity checks a persisted output tree for consistency between
// the artifacts of each unit and against the rule tables they were built
// with. It is the offline counterpart of a run: nothing is fetched.
package integrity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// Tree is the read side of the persisted output.
type Tree interface {
	ListStates(a domain.Artifact) ([]string, error)
	ListUnitCodes(a domain.Artifact, stateAbbr string) ([]string, error)
	Unit(state domain.State, code string) domain.GeographyUnit
	LoadPopulation(unit domain.GeographyUnit) (domain.PopulationBundle, error)
	LoadAgeGender(unit domain.GeographyUnit) ([]domain.AgeGenderRecord, error)
	LoadHousehold(unit domain.GeographyUnit) (domain.HouseholdSummary, error)
}

// Phase tracks pass/fail for one class of checks.
type Phase struct {
	Name   string
	Errors []string
}

func (p *Phase) errorf(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

// Passed reports whether the phase found no errors.
func (p *Phase) Passed() bool { return len(p.Errors) == 0 }

// Result is the outcome of Check.
type Result struct {
	Units        int
	Households   int
	NonCanonical []string // units whose ethnicity has not been recategorized
	Phases       []*Phase
}

// Passed reports whether every phase passed.
func (r Result) Passed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

type checker struct {
	tree  Tree
	rules *domain.Rules

	decode    *Phase
	buckets   *Phase
	totals    *Phase
	sideFile  *Phase
	household *Phase
}

// Check walks every unit with a population bundle. Listing errors abort
// the walk; everything else is recorded per phase.
func Check(tree Tree, rules *domain.Rules) (Result, error) {
	c := &checker{
		tree:      tree,
		rules:     rules,
		decode:    &Phase{Name: "Population bundles decode"},
		buckets:   &Phase{Name: "Age/gender buckets follow the rules"},
		totals:    &Phase{Name: "Ethnicity total matches age/gender total"},
		sideFile:  &Phase{Name: "Age/gender side file matches bundle"},
		household: &Phase{Name: "Household summary joins partition"},
	}
	res := Result{Phases: []*Phase{c.decode, c.buckets, c.totals, c.sideFile, c.household}}

	abbrs, err := tree.ListStates(domain.ArtifactPopulation)
	if err != nil {
		return res, fmt.Errorf("list states: %w", err)
	}
	for _, abbr := range abbrs {
		state, err := rules.LookupState(abbr)
		if err != nil {
			c.decode.errorf("%s: directory does not name a known state", abbr)
			continue
		}
		codes, err := tree.ListUnitCodes(domain.ArtifactPopulation, abbr)
		if err != nil {
			return res, fmt.Errorf("list units of %s: %w", abbr, err)
		}
		for _, code := range codes {
			res.Units++
			unit := tree.Unit(state, code)
			bundle, ok := c.checkBundle(unit)
			if !ok {
				continue
			}
			if !rules.EthnicityPolicy.Canonical(bundle) {
				res.NonCanonical = append(res.NonCanonical, unit.String())
			}
			if c.checkHousehold(unit, bundle) {
				res.Households++
			}
		}
	}
	return res, nil
}

type genderAge struct {
	gender domain.Gender
	age    string
}

func (c *checker) checkBundle(unit domain.GeographyUnit) (domain.PopulationBundle, bool) {
	bundle, err := c.tree.LoadPopulation(unit)
	if err != nil {
		c.decode.errorf("%s: %v", unit, err)
		return domain.PopulationBundle{}, false
	}

	seen := make(map[genderAge]bool, len(bundle.AgeGender))
	for _, r := range bundle.AgeGender {
		key := genderAge{r.Gender, r.Age}
		switch {
		case seen[key]:
			c.buckets.errorf("%s: duplicate %s/%s record", unit, r.Gender, r.Age)
		case !slices.Contains(c.rules.Partition.Children, r.Age) && !slices.Contains(c.rules.Partition.Adults, r.Age):
			c.buckets.errorf("%s: bucket %q is not in the age partition", unit, r.Age)
		case r.Gender != domain.Male && r.Gender != domain.Female:
			c.buckets.errorf("%s: unknown gender %q", unit, r.Gender)
		case r.Area != unit.Area() || r.Region != unit.Region():
			c.buckets.errorf("%s: record addressed to %s/%s", unit, r.Area, r.Region)
		}
		seen[key] = true
	}

	// Both tables partition the same total population.
	if total, eth := bundle.TotalPopulation(), bundle.EthnicityTotal(); total != eth {
		c.totals.errorf("%s: age/gender total %d, ethnicity total %d", unit, total, eth)
	}

	side, err := c.tree.LoadAgeGender(unit)
	switch {
	case err != nil:
		c.sideFile.errorf("%s: %v", unit, err)
	case !slices.Equal(side, bundle.AgeGender):
		c.sideFile.errorf("%s: %d side file records, %d bundle records or differing counts",
			unit, len(side), len(bundle.AgeGender))
	}
	return bundle, true
}

func (c *checker) checkHousehold(unit domain.GeographyUnit, bundle domain.PopulationBundle) bool {
	hh, err := c.tree.LoadHousehold(unit)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return false
	}
	if err != nil {
		c.household.errorf("%s: %v", unit, err)
		return false
	}
	children, adults := c.rules.Partition.Totals(bundle.AgeGender)
	if hh.Children != children || hh.Adults != adults {
		c.household.errorf("%s: children/adults %d/%d, bundle gives %d/%d",
			unit, hh.Children, hh.Adults, children, adults)
	}
	if hh.Households != hh.FamilyHouseholds+hh.NonfamilyHouseholds {
		c.household.errorf("%s: %d households != %d family + %d nonfamily",
			unit, hh.Households, hh.FamilyHouseholds, hh.NonfamilyHouseholds)
	}
	return true
}
