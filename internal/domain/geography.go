package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Kind identifies the geographic unit type. Only County and ZCTA are valid.
type Kind int

const (
	County Kind = iota + 1
	ZCTA
)

// kindSpec is the per-kind method table.
type kindSpec struct {
	name        string // storage and config name
	token       string // Census API "for" token
	stateScoped bool   // queries accept in=state:<fips>
}

var kindSpecs = map[Kind]kindSpec{
	County: {name: "county", token: "county", stateScoped: true},
	ZCTA:   {name: "zcta", token: "zip code tabulation area", stateScoped: false},
}

// ParseKind resolves a configured kind name ("county" or "zcta").
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, spec := range kindSpecs {
		if spec.name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidGeographyKind, s)
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

func (k Kind) String() string {
	if spec, ok := kindSpecs[k]; ok {
		return spec.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Token is the Census API geography token used in the "for" parameter.
func (k Kind) Token() string {
	return kindSpecs[k].token
}

// StateScoped reports whether the API accepts a state filter for this kind.
// ZCTAs are not nested in states, so enumeration pulls the national list.
func (k Kind) StateScoped() bool {
	return kindSpecs[k].stateScoped
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGeographyKind, int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// EnumerationScope returns the cache key for the enumeration query that
// covers state. All ZCTA states share the national scope.
func (k Kind) EnumerationScope(state State) string {
	if k.StateScoped() {
		return k.String() + ":" + state.FIPS
	}
	return k.String() + ":national"
}

// EnumerateParams builds the query that lists every unit of this kind
// visible to state (without the API key).
func (k Kind) EnumerateParams(state State) (url.Values, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGeographyKind, int(k))
	}
	params := url.Values{
		"get": {"NAME"},
		"for": {k.Token() + ":*"},
	}
	if k.StateScoped() {
		params.Set("in", "state:"+state.FIPS)
	}
	return params, nil
}

// DataParams builds the query for variables of a single unit (without the
// API key).
func (k Kind) DataParams(variables []string, unit GeographyUnit) (url.Values, error) {
	if !k.Valid() || unit.Kind != k {
		return nil, fmt.Errorf("%w: %s for unit %s", ErrInvalidGeographyKind, k, unit)
	}
	params := url.Values{
		"get": {strings.Join(append([]string{"NAME"}, variables...), ",")},
		"for": {k.Token() + ":" + unit.Code},
	}
	if k.StateScoped() {
		params.Set("in", "state:"+unit.StateFIPS)
	}
	return params, nil
}

// UnitsFromTable extracts the units belonging to state from an enumeration
// response. Rows are matched on the trailing "state" column, which is the
// only way to scope the national ZCTA list; for counties the filter is a
// no-op on a state-scoped response.
func (k Kind) UnitsFromTable(table RawTable, state State) ([]GeographyUnit, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGeographyKind, int(k))
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	header := table.Header()
	codeCol := slices.Index(header, k.Token())
	if codeCol < 0 {
		return nil, fmt.Errorf("%w: missing %q column", ErrMalformedResponse, k.Token())
	}
	stateCol := slices.Index(header, "state")
	if stateCol < 0 && !k.StateScoped() {
		return nil, fmt.Errorf("%w: missing \"state\" column", ErrMalformedResponse)
	}

	seen := make(map[string]struct{})
	var units []GeographyUnit
	for _, row := range table.Rows() {
		if stateCol >= 0 && row[stateCol] != state.FIPS {
			continue
		}
		code := strings.TrimSpace(row[codeCol])
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		units = append(units, GeographyUnit{
			Kind:      k,
			Code:      code,
			StateFIPS: state.FIPS,
			StateAbbr: state.Abbr,
		})
	}
	return units, nil
}

// State is one entry of the state table.
type State struct {
	FIPS string
	Abbr string
	Name string
}

// GeographyUnit addresses one county or ZCTA. Code is unique per
// (Kind, StateFIPS).
type GeographyUnit struct {
	Kind      Kind   `json:"kind"`
	Code      string `json:"code"`
	StateFIPS string `json:"state_fips"`
	StateAbbr string `json:"state_abbr"`
}

// Area is the synthesis area identifier for the unit.
func (u GeographyUnit) Area() string {
	return u.StateAbbr + "0001"
}

// Region is the synthesis region identifier for the unit.
func (u GeographyUnit) Region() string {
	return u.StateAbbr
}

func (u GeographyUnit) String() string {
	return fmt.Sprintf("%s/%s/%s", u.Kind, u.StateAbbr, u.Code)
}
