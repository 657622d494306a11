package domain

import (
	"cmp"
	"slices"
)

// EthnicityPolicy folds raw race categories into a smaller canonical set.
type EthnicityPolicy struct {
	Keep  []string
	Other string
}

// DefaultEthnicityPolicy keeps White, Asian and Black and folds the rest
// into Other.
var DefaultEthnicityPolicy = EthnicityPolicy{
	Keep:  []string{"White", "Asian", "Black"},
	Other: "Other",
}

// RecategorizeEthnicity applies DefaultEthnicityPolicy.
func RecategorizeEthnicity(b PopulationBundle) PopulationBundle {
	return DefaultEthnicityPolicy.Apply(b)
}

func (p EthnicityPolicy) category(ethnicity string) string {
	if slices.Contains(p.Keep, ethnicity) {
		return ethnicity
	}
	return p.Other
}

type ethnicityKey struct {
	area      string
	region    string
	ethnicity string
}

// Apply returns a copy of b whose ethnicity records are grouped by
// (area, region, category) and summed. Totals are preserved and applying
// the policy twice yields the same bundle.
func (p EthnicityPolicy) Apply(b PopulationBundle) PopulationBundle {
	acc := newTally[ethnicityKey]()
	for _, r := range b.Ethnicity {
		acc.add(ethnicityKey{area: r.Area, region: r.Region, ethnicity: p.category(r.Ethnicity)}, r.Count)
	}

	merged := make([]EthnicityRecord, 0, acc.len())
	acc.each(func(k ethnicityKey, count int) {
		merged = append(merged, EthnicityRecord{
			Area:      k.area,
			Ethnicity: k.ethnicity,
			Count:     count,
			Region:    k.region,
		})
	})
	slices.SortFunc(merged, func(a, b EthnicityRecord) int {
		return cmp.Or(
			cmp.Compare(a.Area, b.Area),
			cmp.Compare(a.Region, b.Region),
			cmp.Compare(a.Ethnicity, b.Ethnicity),
		)
	})

	return PopulationBundle{
		AgeGender: slices.Clone(b.AgeGender),
		Ethnicity: merged,
	}
}

// Canonical reports whether b is already in the policy's output form.
func (p EthnicityPolicy) Canonical(b PopulationBundle) bool {
	return slices.Equal(p.Apply(b).Ethnicity, b.Ethnicity)
}
