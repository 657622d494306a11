package store

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// Table is the on-disk shape of one logical table: named columns and
// string cells. Artifacts are stored as a mapping from table name to Table.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Logical table names.
const (
	tableAgeGender = "age_gender"
	tableEthnicity = "ethnicity"
	tableHousehold = "household"
)

var (
	ageGenderColumns = []string{"area", "gender", "age", "count", "region"}
	ethnicityColumns = []string{"area", "ethnicity", "count", "region"}
	householdColumns = []string{
		"area", "household_num", "family_households", "nonfamily_households",
		"average_household_size", "children_num", "people_num",
	}
)

func ageGenderTable(records []domain.AgeGenderRecord) Table {
	t := Table{Columns: ageGenderColumns, Rows: make([][]string, 0, len(records))}
	for _, r := range records {
		t.Rows = append(t.Rows, []string{r.Area, string(r.Gender), r.Age, strconv.Itoa(r.Count), r.Region})
	}
	return t
}

func ethnicityTable(records []domain.EthnicityRecord) Table {
	t := Table{Columns: ethnicityColumns, Rows: make([][]string, 0, len(records))}
	for _, r := range records {
		t.Rows = append(t.Rows, []string{r.Area, r.Ethnicity, strconv.Itoa(r.Count), r.Region})
	}
	return t
}

func householdTable(s domain.HouseholdSummary) Table {
	return Table{
		Columns: householdColumns,
		Rows: [][]string{{
			s.Area,
			strconv.Itoa(s.Households),
			strconv.Itoa(s.FamilyHouseholds),
			strconv.Itoa(s.NonfamilyHouseholds),
			strconv.FormatFloat(s.AverageHouseholdSize, 'f', -1, 64),
			strconv.Itoa(s.Children),
			strconv.Itoa(s.Adults),
		}},
	}
}

func (t Table) check(name string, columns []string) error {
	if !slices.Equal(t.Columns, columns) {
		return fmt.Errorf("table %s: columns %v, want %v", name, t.Columns, columns)
	}
	for i, row := range t.Rows {
		if len(row) != len(columns) {
			return fmt.Errorf("table %s: row %d has %d cells, want %d", name, i, len(row), len(columns))
		}
	}
	return nil
}

func ageGenderRecords(t Table) ([]domain.AgeGenderRecord, error) {
	if err := t.check(tableAgeGender, ageGenderColumns); err != nil {
		return nil, err
	}
	out := make([]domain.AgeGenderRecord, 0, len(t.Rows))
	for i, row := range t.Rows {
		count, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("table %s: row %d: count: %w", tableAgeGender, i, err)
		}
		out = append(out, domain.AgeGenderRecord{
			Area:   row[0],
			Gender: domain.Gender(row[1]),
			Age:    row[2],
			Count:  count,
			Region: row[4],
		})
	}
	return out, nil
}

func ethnicityRecords(t Table) ([]domain.EthnicityRecord, error) {
	if err := t.check(tableEthnicity, ethnicityColumns); err != nil {
		return nil, err
	}
	out := make([]domain.EthnicityRecord, 0, len(t.Rows))
	for i, row := range t.Rows {
		count, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("table %s: row %d: count: %w", tableEthnicity, i, err)
		}
		out = append(out, domain.EthnicityRecord{
			Area:      row[0],
			Ethnicity: row[1],
			Count:     count,
			Region:    row[3],
		})
	}
	return out, nil
}

func householdSummary(t Table) (domain.HouseholdSummary, error) {
	if err := t.check(tableHousehold, householdColumns); err != nil {
		return domain.HouseholdSummary{}, err
	}
	if len(t.Rows) != 1 {
		return domain.HouseholdSummary{}, fmt.Errorf("table %s: %d rows, want 1", tableHousehold, len(t.Rows))
	}
	row := t.Rows[0]
	s := domain.HouseholdSummary{Area: row[0]}
	ints := []*int{&s.Households, &s.FamilyHouseholds, &s.NonfamilyHouseholds, nil, &s.Children, &s.Adults}
	for i, dst := range ints {
		if dst == nil {
			continue
		}
		n, err := strconv.Atoi(row[i+1])
		if err != nil {
			return domain.HouseholdSummary{}, fmt.Errorf("table %s: %s: %w", tableHousehold, householdColumns[i+1], err)
		}
		*dst = n
	}
	avg, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return domain.HouseholdSummary{}, fmt.Errorf("table %s: average_household_size: %w", tableHousehold, err)
	}
	s.AverageHouseholdSize = avg
	return s, nil
}
