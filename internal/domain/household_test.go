package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func householdTable(avg string) RawTable {
	return RawTable{
		{"NAME", "B11001_001E", "B11001_002E", "B11001_007E", "B25010_001E", "state", "county"},
		{"Alameda County, California", "100", "70", "30", avg, "06", "001"},
	}
}

func TestBuildHouseholdSummary(t *testing.T) {
	n := testNormalizer(t)
	records := []AgeGenderRecord{
		{Area: "CA0001", Gender: Male, Age: "u5", Count: 10, Region: "CA"},
		{Area: "CA0001", Gender: Female, Age: "5t9", Count: 15, Region: "CA"},
		{Area: "CA0001", Gender: Male, Age: "22t24", Count: 120, Region: "CA"},
		{Area: "CA0001", Gender: Female, Age: "85plus", Count: 80, Region: "CA"},
	}

	summary, err := n.BuildHouseholdSummary(householdTable("2.75"), records, testUnit)
	require.NoError(t, err)
	assert.Equal(t, HouseholdSummary{
		Area:                 "CA0001",
		Households:           100,
		FamilyHouseholds:     70,
		NonfamilyHouseholds:  30,
		AverageHouseholdSize: 2.75,
		Children:             25,
		Adults:               200,
	}, summary)
}

func TestBuildHouseholdSummary_NoHouseholdsAnnotation(t *testing.T) {
	n := testNormalizer(t)
	summary, err := n.BuildHouseholdSummary(householdTable("-666666666"), nil, testUnit)
	require.NoError(t, err)
	assert.Zero(t, summary.AverageHouseholdSize)
}

func TestBuildHouseholdSummary_MissingColumn(t *testing.T) {
	n := testNormalizer(t)
	table := RawTable{
		{"NAME", "B11001_001E"},
		{"x", "100"},
	}
	_, err := n.BuildHouseholdSummary(table, nil, testUnit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAgePartition_Validate(t *testing.T) {
	p := AgePartition{Children: []string{"u5", "5t9"}, Adults: []string{"20t21", "85plus"}}
	require.NoError(t, p.Validate([]string{"u5", "5t9", "20t21", "85plus"}))

	err := p.Validate([]string{"u5", "10t14"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10t14")

	overlap := AgePartition{Children: []string{"u5"}, Adults: []string{"u5"}}
	err = overlap.Validate([]string{"u5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both")
}
