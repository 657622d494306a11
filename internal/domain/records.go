package domain

import (
	"fmt"
	"sort"
)

// RawTable is an unparsed Census API response: row 0 is the header, every
// further row is one data row.
type RawTable [][]string

// Validate checks the row/column shape: a header, at least one data row, and
// rows as wide as the header.
func (t RawTable) Validate() error {
	if len(t) < 2 {
		return fmt.Errorf("%w: expected header and at least one data row, got %d rows", ErrMalformedResponse, len(t))
	}
	width := len(t[0])
	if width == 0 {
		return fmt.Errorf("%w: empty header", ErrMalformedResponse)
	}
	for i, row := range t[1:] {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d columns, header has %d", ErrMalformedResponse, i+1, len(row), width)
		}
	}
	return nil
}

// Header returns the column names.
func (t RawTable) Header() []string {
	if len(t) == 0 {
		return nil
	}
	return t[0]
}

// Rows returns the data rows.
func (t RawTable) Rows() [][]string {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

// SingleRow returns the only data row of a per-unit pull.
func (t RawTable) SingleRow() ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(t) != 2 {
		return nil, fmt.Errorf("%w: expected one data row, got %d", ErrMalformedResponse, len(t)-1)
	}
	return t[1], nil
}

// LabelMap maps Census variable IDs to their labels. It is built once per run
// and only read afterwards.
type LabelMap map[string]string

// IDs returns the variable IDs in sorted order.
func (m LabelMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Gender is the binary gender published by the upstream tables.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// AgeGenderRecord is one long-form row of the age/gender table.
type AgeGenderRecord struct {
	Area   string `json:"area"`
	Gender Gender `json:"gender"`
	Age    string `json:"age"`
	Count  int    `json:"count"`
	Region string `json:"region"`
}

// EthnicityRecord is one long-form row of the ethnicity table.
type EthnicityRecord struct {
	Area      string `json:"area"`
	Ethnicity string `json:"ethnicity"`
	Count     int    `json:"count"`
	Region    string `json:"region"`
}

// PopulationBundle is the persisted population dataset of one unit.
type PopulationBundle struct {
	AgeGender []AgeGenderRecord `json:"age_gender"`
	Ethnicity []EthnicityRecord `json:"ethnicity"`
}

// HouseholdSummary joins household table counts with the unit's own
// children/adult totals.
type HouseholdSummary struct {
	Area                 string  `json:"area"`
	Households           int     `json:"household_num"`
	FamilyHouseholds     int     `json:"family_households"`
	NonfamilyHouseholds  int     `json:"nonfamily_households"`
	AverageHouseholdSize float64 `json:"average_household_size"`
	Children             int     `json:"children_num"`
	Adults               int     `json:"people_num"`
}

// TotalPopulation sums the age/gender counts.
func (b PopulationBundle) TotalPopulation() int {
	total := 0
	for _, r := range b.AgeGender {
		total += r.Count
	}
	return total
}

// EthnicityTotal sums the ethnicity counts.
func (b PopulationBundle) EthnicityTotal() int {
	total := 0
	for _, r := range b.Ethnicity {
		total += r.Count
	}
	return total
}
