// Package domain models American Community Survey (ACS) demographic data
// for counties and ZIP Code Tabulation Areas (ZCTAs).
//
// # Data Source
//
// Counts come from the Census Data API 5-year ACS endpoint
// (https://api.census.gov/data/2022/acs/acs5). Every response is a JSON
// array of arrays: row 0 holds column names (variable IDs plus geography
// columns such as "state" and "county"), each further row holds the values
// for one geographic unit, encoded as strings.
//
// # Variables
//
// Variable IDs follow "<table>_<cell>E", e.g. "B01001_026E". Labels come
// from the published variables.html catalog and use "!!" as a level
// separator:
//
//	"Estimate!!Total:!!Male:!!5 to 9 years"  →  (male, "5t9")
//	"Estimate!!Total:!!Female:"              →  (female, "unknown", dropped)
//
// Gender is binary in the upstream tables: a label is male when it contains
// the male marker and female otherwise.
//
// Age buckets are resolved by an ordered rule list, first match wins. The
// "Sex by Age" table publishes ages 20 and 21 as separate single-year cells;
// both collapse into "20t21" so the buckets line up with the synthesis
// collaborator's age groups. Collapsed cells are summed, never overwritten.
//
// # Geography
//
// Counties are addressed by state FIPS + county FIPS and can be enumerated
// per state. ZCTAs are a national namespace: the enumeration endpoint
// returns every ZCTA with its state in a trailing column, so the list is
// fetched once and filtered client-side (see [Kind.UnitsFromTable]).
//
// # Area Convention
//
// Each unit is handed to the synthesis collaborator as a single-area region:
// region is the state abbreviation and area is the abbreviation followed by
// "0001" (see [GeographyUnit.Area]).
//
// # Ethnicity
//
// Race counts come from B02001 (seven categories). Persisted bundles keep
// the raw categories; [EthnicityPolicy.Apply] folds everything outside
// {White, Asian, Black} into "Other" as a separate, re-runnable pass.
package domain
