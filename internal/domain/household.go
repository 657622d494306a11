package domain

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// HouseholdVariables names the four household table variables.
type HouseholdVariables struct {
	Households          string
	FamilyHouseholds    string
	NonfamilyHouseholds string
	AverageSize         string
}

// IDs returns the variable IDs in request order.
func (v HouseholdVariables) IDs() []string {
	return []string{v.Households, v.FamilyHouseholds, v.NonfamilyHouseholds, v.AverageSize}
}

// AgePartition splits age buckets into children and adults. Every bucket
// the label parser can emit must sit in exactly one of the two sets, or the
// household join under-counts.
type AgePartition struct {
	Children []string
	Adults   []string
}

// Validate checks that buckets are covered exactly once.
func (p AgePartition) Validate(buckets []string) error {
	var errs []error
	for _, b := range p.Children {
		if slices.Contains(p.Adults, b) {
			errs = append(errs, fmt.Errorf("bucket %q is in both children and adults", b))
		}
	}
	for _, b := range buckets {
		if !slices.Contains(p.Children, b) && !slices.Contains(p.Adults, b) {
			errs = append(errs, fmt.Errorf("bucket %q is in neither children nor adults", b))
		}
	}
	return errors.Join(errs...)
}

// BuildHouseholdSummary reads the household variables from the unit's
// household pull and joins them with the children/adult totals derived from
// the unit's age/gender records.
func (n *Normalizer) BuildHouseholdSummary(table RawTable, records []AgeGenderRecord, unit GeographyUnit) (HouseholdSummary, error) {
	row, err := table.SingleRow()
	if err != nil {
		return HouseholdSummary{}, err
	}
	header := table.Header()
	cell := func(id string) (string, error) {
		i := slices.Index(header, id)
		if i < 0 {
			return "", fmt.Errorf("%w: missing column %s", ErrMalformedResponse, id)
		}
		return row[i], nil
	}

	summary := HouseholdSummary{Area: unit.Area()}
	counts := []struct {
		id  string
		dst *int
	}{
		{n.household.Households, &summary.Households},
		{n.household.FamilyHouseholds, &summary.FamilyHouseholds},
		{n.household.NonfamilyHouseholds, &summary.NonfamilyHouseholds},
	}
	for _, c := range counts {
		v, err := cell(c.id)
		if err != nil {
			return HouseholdSummary{}, err
		}
		if *c.dst, err = parseCount(c.id, v); err != nil {
			return HouseholdSummary{}, err
		}
	}

	v, err := cell(n.household.AverageSize)
	if err != nil {
		return HouseholdSummary{}, err
	}
	if summary.AverageHouseholdSize, err = parseAverage(n.household.AverageSize, v); err != nil {
		return HouseholdSummary{}, err
	}

	summary.Children, summary.Adults = n.partition.Totals(records)
	return summary, nil
}

// Totals sums record counts into children and adults.
func (p AgePartition) Totals(records []AgeGenderRecord) (children, adults int) {
	for _, r := range records {
		switch {
		case slices.Contains(p.Children, r.Age):
			children += r.Count
		case slices.Contains(p.Adults, r.Age):
			adults += r.Count
		}
	}
	return children, adults
}

// parseAverage parses the average household size. ACS publishes a negative
// annotation value when a unit has no households; that maps to 0.
func parseAverage(col, value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: column %s: invalid average %q", ErrMalformedResponse, col, value)
	}
	if f < 0 {
		return 0, nil
	}
	return f, nil
}
