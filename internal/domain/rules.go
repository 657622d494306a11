package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Rules bundles the immutable rule tables used by a run. It is built once
// at startup and shared read-only by every worker.
type Rules struct {
	// CatalogConcept selects the age/gender variables from the catalog.
	CatalogConcept  string
	Labels          *LabelParser
	Ethnicity       LabelMap
	EthnicityPolicy EthnicityPolicy
	Household       HouseholdVariables
	Partition       AgePartition
	States          []State
}

// Validate checks cross-table consistency.
func (r *Rules) Validate() error {
	var errs []error
	if r.Labels == nil {
		errs = append(errs, errors.New("label parser is required"))
	} else if err := r.Partition.Validate(r.Labels.Buckets()); err != nil {
		errs = append(errs, fmt.Errorf("age partition: %w", err))
	}
	if r.CatalogConcept == "" {
		errs = append(errs, errors.New("catalog concept is required"))
	}
	if len(r.Ethnicity) == 0 {
		errs = append(errs, errors.New("ethnicity variables are required"))
	}
	if r.EthnicityPolicy.Other == "" {
		errs = append(errs, errors.New("ethnicity policy needs an Other category"))
	}
	for _, id := range r.Household.IDs() {
		if id == "" {
			errs = append(errs, errors.New("all four household variables are required"))
			break
		}
	}
	if len(r.States) == 0 {
		errs = append(errs, errors.New("state table is empty"))
	}
	fips := make(map[string]bool, len(r.States))
	abbr := make(map[string]bool, len(r.States))
	for _, s := range r.States {
		if s.FIPS == "" || s.Abbr == "" {
			errs = append(errs, fmt.Errorf("state %q needs fips and abbreviation", s.Name))
			continue
		}
		if fips[s.FIPS] || abbr[s.Abbr] {
			errs = append(errs, fmt.Errorf("duplicate state %s (%s)", s.Abbr, s.FIPS))
		}
		fips[s.FIPS], abbr[s.Abbr] = true, true
	}
	return errors.Join(errs...)
}

// LookupState finds a state by FIPS code or abbreviation.
func (r *Rules) LookupState(key string) (State, error) {
	key = strings.TrimSpace(key)
	for _, s := range r.States {
		if s.FIPS == key || strings.EqualFold(s.Abbr, key) {
			return s, nil
		}
	}
	return State{}, fmt.Errorf("unknown state %q", key)
}

// SortedStates returns the states ordered by abbreviation.
func (r *Rules) SortedStates() []State {
	states := slices.Clone(r.States)
	slices.SortFunc(states, func(a, b State) int { return strings.Compare(a.Abbr, b.Abbr) })
	return states
}
