package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/domain"
)

var (
	newJersey = domain.State{FIPS: "34", Abbr: "NJ", Name: "New Jersey"}
	maine     = domain.State{FIPS: "23", Abbr: "ME", Name: "Maine"}
)

// testLabels is a trimmed "Sex by Age" catalog: one total column that
// parses to the unknown bucket and the two single-year columns that
// collapse into 20t21.
var testLabels = domain.LabelMap{
	"B01001_001E": "Estimate!!Total:",
	"B01001_003E": "Estimate!!Total:!!Male:!!Under 5 years",
	"B01001_008E": "Estimate!!Total:!!Male:!!20 years",
	"B01001_009E": "Estimate!!Total:!!Male:!!21 years",
	"B01001_027E": "Estimate!!Total:!!Female:!!Under 5 years",
}

func testRules(t *testing.T) *domain.Rules {
	t.Helper()
	rules, err := config.LoadRules("")
	require.NoError(t, err)
	return rules
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countyUnits(state domain.State, codes ...string) []domain.GeographyUnit {
	units := make([]domain.GeographyUnit, 0, len(codes))
	for _, code := range codes {
		units = append(units, domain.GeographyUnit{Kind: domain.County, Code: code, StateFIPS: state.FIPS, StateAbbr: state.Abbr})
	}
	return units
}

func upstreamError(unit domain.GeographyUnit, status int) error {
	return &domain.FetchError{Op: "fetch", Target: unit.String(), Status: status, Err: domain.ErrUpstreamUnavailable}
}

func malformedError(unit domain.GeographyUnit) error {
	return &domain.FetchError{Op: "fetch", Target: unit.String(), Status: http.StatusOK, Err: domain.ErrMalformedResponse}
}

// --- fetcher ---

type fakeFetcher struct {
	mu        sync.Mutex
	units     map[string][]domain.GeographyUnit // by state abbreviation
	enumErr   map[string]error
	fail      map[string]error   // permanent, by unit code
	flaky     map[string][]error // returned in order, then success
	onFetch   func(domain.GeographyUnit)
	calls     map[string]int
	slowdowns int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		units:   map[string][]domain.GeographyUnit{},
		enumErr: map[string]error{},
		fail:    map[string]error{},
		flaky:   map[string][]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeFetcher) EnumerateUnits(ctx context.Context, _ domain.Kind, state domain.State) ([]domain.GeographyUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enumErr[state.Abbr]; err != nil {
		return nil, err
	}
	return f.units[state.Abbr], nil
}

func (f *fakeFetcher) FetchVariables(ctx context.Context, variables []string, unit domain.GeographyUnit) (domain.RawTable, error) {
	if f.onFetch != nil {
		f.onFetch(unit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[unit.Code]++
	if err := f.fail[unit.Code]; err != nil {
		return nil, err
	}
	if errs := f.flaky[unit.Code]; len(errs) > 0 {
		f.flaky[unit.Code] = errs[1:]
		return nil, errs[0]
	}

	header := append([]string{"NAME"}, variables...)
	header = append(header, "state", "county")
	row := []string{unit.Code + " County"}
	for range variables {
		row = append(row, "10")
	}
	row = append(row, unit.StateFIPS, unit.Code)
	return domain.RawTable{header, row}, nil
}

func (f *fakeFetcher) Slowdown() rate.Limit {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slowdowns++
	return rate.Limit(1)
}

func (f *fakeFetcher) callCount(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[code]
}

// --- store ---

type fakeStore struct {
	mu         sync.Mutex
	population map[string]domain.PopulationBundle
	ageGender  map[string][]domain.AgeGenderRecord
	household  map[string]domain.HouseholdSummary
	fail       map[string]error // WriteAgeGender failures by unit code
	failHH     map[string]error // WriteHousehold failures by unit code
	removed    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		population: map[string]domain.PopulationBundle{},
		ageGender:  map[string][]domain.AgeGenderRecord{},
		household:  map[string]domain.HouseholdSummary{},
		fail:       map[string]error{},
		failHH:     map[string]error{},
	}
}

func (s *fakeStore) WritePopulation(ctx context.Context, unit domain.GeographyUnit, b domain.PopulationBundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.population[unit.String()] = b
	return nil
}

func (s *fakeStore) WriteAgeGender(ctx context.Context, unit domain.GeographyUnit, records []domain.AgeGenderRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[unit.Code]; err != nil {
		return err
	}
	s.ageGender[unit.String()] = records
	return nil
}

func (s *fakeStore) WriteHousehold(ctx context.Context, unit domain.GeographyUnit, summary domain.HouseholdSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failHH[unit.Code]; err != nil {
		return err
	}
	s.household[unit.String()] = summary
	return nil
}

func (s *fakeStore) RemoveUnit(unit domain.GeographyUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := unit.String()
	delete(s.population, key)
	delete(s.ageGender, key)
	delete(s.household, key)
	s.removed = append(s.removed, key)
	return nil
}

// --- notifier ---

type fakeNotifier struct {
	mu      sync.Mutex
	results []domain.UnitResult
	ctxErrs []error
}

func (n *fakeNotifier) Notify(ctx context.Context, res domain.UnitResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, res)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return nil
}
