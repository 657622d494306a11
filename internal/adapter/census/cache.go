package census

import (
	"context"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// CachedClient memoizes enumeration responses per scope. All ZCTA states
// share the national scope, so the national list is fetched once per run
// even when several state workers ask for it at the same time.
type CachedClient struct {
	*Client
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedClient wraps client with an enumeration cache whose entries
// expire after ttl.
func NewCachedClient(client *Client, ttl time.Duration) *CachedClient {
	return &CachedClient{
		Client: client,
		cache:  cache.New(ttl, 0),
	}
}

// EnumerateUnits lists the units of kind that belong to state, reusing a
// cached enumeration response for the same scope.
func (c *CachedClient) EnumerateUnits(ctx context.Context, kind domain.Kind, state domain.State) ([]domain.GeographyUnit, error) {
	table, err := c.enumerationTable(ctx, kind, state)
	if err != nil {
		return nil, err
	}
	units, err := kind.UnitsFromTable(table, state)
	if err != nil {
		return nil, &domain.FetchError{Op: "enumerate", Target: kind.EnumerationScope(state), Status: http.StatusOK, Err: err}
	}
	return units, nil
}

func (c *CachedClient) enumerationTable(ctx context.Context, kind domain.Kind, state domain.State) (domain.RawTable, error) {
	key := kind.EnumerationScope(state)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.EnumerateCache.WithLabelValues("hit").Inc()
		return v.(domain.RawTable), nil
	}
	c.metrics.EnumerateCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		table, err := c.EnumerationTable(ctx, kind, state)
		if err != nil {
			return nil, err
		}
		// Failures are not cached so a later state can retry the scope.
		c.cache.SetDefault(key, table)
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.RawTable), nil
}

// Len returns the number of cached enumeration scopes.
func (c *CachedClient) Len() int {
	return c.cache.ItemCount()
}
