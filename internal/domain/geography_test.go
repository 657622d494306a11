package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	newJersey = State{FIPS: "34", Abbr: "NJ", Name: "New Jersey"}
	maine     = State{FIPS: "23", Abbr: "ME", Name: "Maine"}
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("county")
	require.NoError(t, err)
	assert.Equal(t, County, k)

	k, err = ParseKind(" ZCTA ")
	require.NoError(t, err)
	assert.Equal(t, ZCTA, k)

	_, err = ParseKind("tract")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGeographyKind)
}

func TestKind_DataParams(t *testing.T) {
	county := GeographyUnit{Kind: County, Code: "001", StateFIPS: "34", StateAbbr: "NJ"}
	params, err := County.DataParams([]string{"B01001_002E", "B01001_026E"}, county)
	require.NoError(t, err)
	assert.Equal(t, "NAME,B01001_002E,B01001_026E", params.Get("get"))
	assert.Equal(t, "county:001", params.Get("for"))
	assert.Equal(t, "state:34", params.Get("in"))

	zcta := GeographyUnit{Kind: ZCTA, Code: "08323", StateFIPS: "34", StateAbbr: "NJ"}
	params, err = ZCTA.DataParams([]string{"B01001_002E"}, zcta)
	require.NoError(t, err)
	assert.Equal(t, "zip code tabulation area:08323", params.Get("for"))
	assert.False(t, params.Has("in"), "ZCTA queries are not state scoped")

	_, err = County.DataParams(nil, zcta)
	assert.ErrorIs(t, err, ErrInvalidGeographyKind)

	_, err = Kind(9).DataParams(nil, GeographyUnit{Kind: 9})
	assert.ErrorIs(t, err, ErrInvalidGeographyKind)
}

func TestKind_EnumerateParams(t *testing.T) {
	params, err := County.EnumerateParams(newJersey)
	require.NoError(t, err)
	assert.Equal(t, "county:*", params.Get("for"))
	assert.Equal(t, "state:34", params.Get("in"))

	params, err = ZCTA.EnumerateParams(newJersey)
	require.NoError(t, err)
	assert.Equal(t, "zip code tabulation area:*", params.Get("for"))
	assert.False(t, params.Has("in"))

	assert.Equal(t, "county:34", County.EnumerationScope(newJersey))
	assert.Equal(t, ZCTA.EnumerationScope(maine), ZCTA.EnumerationScope(newJersey))
}

func TestKind_UnitsFromTable_ZCTAFiltersByState(t *testing.T) {
	table := RawTable{
		{"NAME", "B19013_001E", "state", "zip code tabulation area"},
		{"ZCTA5 08323", "61000", "34", "08323"},
		{"ZCTA5 04330", "52000", "23", "04330"},
		{"ZCTA5 07001", "83000", "34", "07001"},
		{"ZCTA5 04401", "47000", "23", "04401"},
		{"ZCTA5 07001", "83000", "34", "07001"},
	}

	units, err := ZCTA.UnitsFromTable(table, newJersey)
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, "34", u.StateFIPS)
		assert.Equal(t, "NJ", u.StateAbbr)
		assert.Equal(t, ZCTA, u.Kind)
	}
	assert.Equal(t, "08323", units[0].Code)
	assert.Equal(t, "07001", units[1].Code)

	units, err = ZCTA.UnitsFromTable(table, maine)
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestKind_UnitsFromTable_County(t *testing.T) {
	table := RawTable{
		{"NAME", "state", "county"},
		{"Atlantic County, New Jersey", "34", "001"},
		{"Bergen County, New Jersey", "34", "003"},
	}
	units, err := County.UnitsFromTable(table, newJersey)
	require.NoError(t, err)
	assert.Equal(t, []GeographyUnit{
		{Kind: County, Code: "001", StateFIPS: "34", StateAbbr: "NJ"},
		{Kind: County, Code: "003", StateFIPS: "34", StateAbbr: "NJ"},
	}, units)
}

func TestKind_UnitsFromTable_Malformed(t *testing.T) {
	_, err := ZCTA.UnitsFromTable(RawTable{{"NAME", "zip code tabulation area"}, {"x", "08323"}}, newJersey)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = County.UnitsFromTable(RawTable{{"NAME", "state"}, {"x", "34"}}, newJersey)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGeographyUnit_JSON(t *testing.T) {
	u := GeographyUnit{Kind: ZCTA, Code: "08323", StateFIPS: "34", StateAbbr: "NJ"}
	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"zcta","code":"08323","state_fips":"34","state_abbr":"NJ"}`, string(data))

	var back GeographyUnit
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, u, back)
	assert.Equal(t, "NJ0001", back.Area())
	assert.Equal(t, "zcta/NJ/08323", back.String())
}
