package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Normalizer reshapes per-unit wide tables into long-form records.
// It holds only immutable rule tables and is safe for concurrent use.
type Normalizer struct {
	parser    *LabelParser
	household HouseholdVariables
	partition AgePartition
}

// NewNormalizer builds a Normalizer from validated rules.
func NewNormalizer(rules *Rules) *Normalizer {
	return &Normalizer{
		parser:    rules.Labels,
		household: rules.Household,
		partition: rules.Partition,
	}
}

type ageGenderKey struct {
	area   string
	gender Gender
	age    string
	region string
}

// ToAgeGender converts the single data row of an age/gender pull into
// records. Columns whose label resolves to UnknownBucket are dropped and
// counted in the second return value. Columns that collapse into the same
// (gender, bucket) are summed.
func (n *Normalizer) ToAgeGender(table RawTable, labels LabelMap, unit GeographyUnit) ([]AgeGenderRecord, int, error) {
	row, err := table.SingleRow()
	if err != nil {
		return nil, 0, err
	}
	header := table.Header()
	if err := requireColumns(header, labels); err != nil {
		return nil, 0, err
	}

	acc := newTally[ageGenderKey]()
	dropped := 0
	for i, col := range header {
		label, ok := labels[col]
		if !ok {
			continue
		}
		gender, bucket := n.parser.Parse(label)
		if bucket == UnknownBucket {
			dropped++
			continue
		}
		count, err := parseCount(col, row[i])
		if err != nil {
			return nil, 0, err
		}
		acc.add(ageGenderKey{area: unit.Area(), gender: gender, age: bucket, region: unit.Region()}, count)
	}

	records := make([]AgeGenderRecord, 0, acc.len())
	acc.each(func(k ageGenderKey, count int) {
		records = append(records, AgeGenderRecord{
			Area:   k.area,
			Gender: k.gender,
			Age:    k.age,
			Count:  count,
			Region: k.region,
		})
	})
	return records, dropped, nil
}

// ToEthnicity reshapes each ethnicity column into one record (wide to long).
func (n *Normalizer) ToEthnicity(table RawTable, labels LabelMap, unit GeographyUnit) ([]EthnicityRecord, error) {
	row, err := table.SingleRow()
	if err != nil {
		return nil, err
	}
	header := table.Header()
	if err := requireColumns(header, labels); err != nil {
		return nil, err
	}

	records := make([]EthnicityRecord, 0, len(labels))
	for i, col := range header {
		label, ok := labels[col]
		if !ok {
			continue
		}
		count, err := parseCount(col, row[i])
		if err != nil {
			return nil, err
		}
		records = append(records, EthnicityRecord{
			Area:      unit.Area(),
			Ethnicity: label,
			Count:     count,
			Region:    unit.Region(),
		})
	}
	return records, nil
}

// requireColumns fails when a requested variable is absent from the
// response header.
func requireColumns(header []string, labels LabelMap) error {
	for _, id := range labels.IDs() {
		if !slices.Contains(header, id) {
			return fmt.Errorf("%w: missing column %s", ErrMalformedResponse, id)
		}
	}
	return nil
}

// parseCount parses a non-negative integer cell.
func parseCount(col, value string) (int, error) {
	v := strings.TrimSpace(value)
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("%w: column %s: invalid count %q", ErrMalformedResponse, col, value)
		}
		n = int(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: column %s: negative count %d", ErrMalformedResponse, col, n)
	}
	return n, nil
}
