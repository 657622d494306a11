//go:build census

package census

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/domain"
	"github.com/couchcryptid/census-population-etl/internal/observability"
)

// These tests hit the real Census Data API and require CENSUS_API_KEY.
// Run with: go test -tags=census ./internal/adapter/census/ -v -count=1

var delaware = domain.State{FIPS: "10", Abbr: "DE", Name: "Delaware"}

func smokeClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("CENSUS_API_KEY") == "" {
		t.Fatal("CENSUS_API_KEY must be set to run smoke tests")
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	return NewClient(cfg, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_FetchLabels(t *testing.T) {
	c := smokeClient(t)
	rules, err := config.LoadRules("")
	require.NoError(t, err)

	labels, err := c.FetchLabels(context.Background(), rules.CatalogConcept)
	require.NoError(t, err)
	assert.Contains(t, labels, "B01001_001E")

	known := 0
	for _, label := range labels {
		if _, bucket := rules.Labels.Parse(label); bucket != domain.UnknownBucket {
			known++
		}
	}
	assert.GreaterOrEqual(t, known, 46, "23 age rows per gender")
}

func TestSmoke_EnumerateCounties(t *testing.T) {
	c := smokeClient(t)

	units, err := c.EnumerateUnits(context.Background(), domain.County, delaware)
	require.NoError(t, err)
	assert.Len(t, units, 3)
	for _, u := range units {
		assert.Equal(t, "DE", u.StateAbbr)
	}
}

func TestSmoke_EnumerateZCTAsCached(t *testing.T) {
	cached := NewCachedClient(smokeClient(t), time.Hour)
	ctx := context.Background()

	units, err := cached.EnumerateUnits(ctx, domain.ZCTA, delaware)
	require.NoError(t, err)
	assert.NotEmpty(t, units)

	// Second state reuses the national list.
	_, err = cached.EnumerateUnits(ctx, domain.ZCTA, domain.State{FIPS: "44", Abbr: "RI", Name: "Rhode Island"})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())
}

func TestSmoke_FetchVariables(t *testing.T) {
	c := smokeClient(t)
	unit := domain.GeographyUnit{Kind: domain.County, Code: "001", StateFIPS: "10", StateAbbr: "DE"}

	table, err := c.FetchVariables(context.Background(), []string{"B11001_001E", "B25010_001E"}, unit)
	require.NoError(t, err)
	assert.Equal(t, []string{"NAME", "B11001_001E", "B25010_001E", "state", "county"}, table.Header())
}
