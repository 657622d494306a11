package census

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/domain"
	"github.com/couchcryptid/census-population-etl/internal/observability"
)

// minRateLimit is the floor Slowdown never goes below.
const minRateLimit = rate.Limit(0.5)

// recoverAfter is the number of consecutive successful requests after which
// a lowered rate is doubled back toward the configured one.
const recoverAfter = 50

// Client talks to the Census Data API. It never retries; retry policy
// belongs to the caller, which gets a *domain.FetchError with the HTTP
// status to decide.
type Client struct {
	apiKey       string
	baseURL      string
	zctaURL      string
	variablesURL string
	httpClient   *http.Client
	metrics      *observability.Metrics
	logger       *slog.Logger

	mu        sync.Mutex // guards limit changes and successes
	limiter   *rate.Limiter
	maxLimit  rate.Limit
	successes int
}

// NewClient creates a Census API client from the service configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	limit := rate.Limit(cfg.RateLimit)
	metrics.RateLimit.Set(cfg.RateLimit)
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.APIURL,
		zctaURL:      cfg.ZCTAURL,
		variablesURL: cfg.VariablesURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		metrics:  metrics,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, 1),
		maxLimit: limit,
	}
}

// Slowdown halves the request rate, down to a fixed floor, and returns the
// new limit. The orchestrator calls it when upstream answers 429.
func (c *Client) Slowdown() rate.Limit {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes = 0
	next := c.limiter.Limit() / 2
	if next < minRateLimit {
		next = minRateLimit
	}
	c.limiter.SetLimit(next)
	c.metrics.RateLimit.Set(float64(next))
	c.logger.Warn("census rate limit lowered", "rps", float64(next))
	return next
}

// recordSuccess counts a 2xx response and raises a lowered rate once
// recoverAfter of them arrive in a row.
func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.limiter.Limit()
	if current >= c.maxLimit {
		return
	}
	c.successes++
	if c.successes < recoverAfter {
		return
	}
	c.successes = 0
	next := min(current*2, c.maxLimit)
	c.limiter.SetLimit(next)
	c.metrics.RateLimit.Set(float64(next))
	c.logger.Info("census rate limit raised", "rps", float64(next))
}

// EnumerationTable returns the raw enumeration response that lists every
// unit of kind visible to state. For ZCTAs this is the national list.
func (c *Client) EnumerationTable(ctx context.Context, kind domain.Kind, state domain.State) (domain.RawTable, error) {
	params, err := kind.EnumerateParams(state)
	if err != nil {
		return nil, err
	}
	base := c.baseURL
	if !kind.StateScoped() {
		base = c.zctaURL
	}
	return c.getTable(ctx, "enumerate", kind.EnumerationScope(state), base, params)
}

// EnumerateUnits lists the units of kind that belong to state.
func (c *Client) EnumerateUnits(ctx context.Context, kind domain.Kind, state domain.State) ([]domain.GeographyUnit, error) {
	table, err := c.EnumerationTable(ctx, kind, state)
	if err != nil {
		return nil, err
	}
	units, err := kind.UnitsFromTable(table, state)
	if err != nil {
		return nil, &domain.FetchError{Op: "enumerate", Target: kind.EnumerationScope(state), Status: http.StatusOK, Err: err}
	}
	return units, nil
}

// FetchVariables pulls variables for a single unit.
func (c *Client) FetchVariables(ctx context.Context, variables []string, unit domain.GeographyUnit) (domain.RawTable, error) {
	params, err := unit.Kind.DataParams(variables, unit)
	if err != nil {
		return nil, err
	}
	table, err := c.getTable(ctx, "fetch", unit.String(), c.baseURL, params)
	if err != nil {
		return nil, err
	}
	if _, err := table.SingleRow(); err != nil {
		return nil, &domain.FetchError{Op: "fetch", Target: unit.String(), Status: http.StatusOK, Err: err}
	}
	return table, nil
}

func (c *Client) getTable(ctx context.Context, op, target, base string, params url.Values) (domain.RawTable, error) {
	body, status, err := c.get(ctx, op, target, base, params)
	if err != nil {
		return nil, err
	}
	table, err := decodeTable(body)
	if err != nil {
		return nil, &domain.FetchError{Op: op, Target: target, Status: status, Err: err}
	}
	return table, nil
}

// get performs one rate-limited GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, op, target, base string, params url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &domain.FetchError{Op: op, Target: target, Err: err}
	}

	fullURL := base
	if params != nil {
		if c.apiKey != "" {
			params.Set("key", c.apiKey)
		}
		// The API expects %20 rather than + in geography tokens.
		fullURL += "?" + strings.ReplaceAll(params.Encode(), "+", "%20")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.APIDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(op, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, &domain.FetchError{Op: op, Target: target, Err: ctxErr}
		}
		return nil, 0, &domain.FetchError{Op: op, Target: target, Err: fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(op, "error").Inc()
		return nil, resp.StatusCode, &domain.FetchError{Op: op, Target: target, Status: resp.StatusCode,
			Err: fmt.Errorf("%w: read body: %w", domain.ErrUpstreamUnavailable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.APIRequests.WithLabelValues(op, "error").Inc()
		c.logger.Debug("census API error", "op", op, "target", target, "status", resp.StatusCode)
		return nil, resp.StatusCode, &domain.FetchError{Op: op, Target: target, Status: resp.StatusCode,
			Err: fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, snippet(body))}
	}

	c.metrics.APIRequests.WithLabelValues(op, "success").Inc()
	c.recordSuccess()
	return body, resp.StatusCode, nil
}

// decodeTable parses a JSON array of arrays. Cells may be strings, numbers
// or null; all are kept as strings, null as "".
func decodeTable(body []byte) (domain.RawTable, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}

	table := make(domain.RawTable, len(raw))
	for i, row := range raw {
		cells := make([]string, len(row))
		for j, v := range row {
			switch v := v.(type) {
			case nil:
			case string:
				cells[j] = v
			case json.Number:
				cells[j] = v.String()
			default:
				return nil, fmt.Errorf("%w: row %d column %d: unexpected %T", domain.ErrMalformedResponse, i, j, v)
			}
		}
		table[i] = cells
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
