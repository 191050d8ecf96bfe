package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"treasuryd/internal/errors"
	"treasuryd/internal/market/breaker"
	"treasuryd/internal/types"
)

// Fetcher is the contract one external data source adapter implements.
// Name doubles as the circuit-breaker key for the fetcher's category.
type Fetcher interface {
	Name() string
	Category() string
	Fetch(ctx context.Context) (types.Fragment, error)
}

// Config holds the settings shared by all fetchers
type Config struct {
	FREDAPIKey         string
	ExchangeRateAPIKey string
	FetchTimeout       time.Duration
}

// DefaultFetchers returns the production fetcher set, one per data category
func DefaultFetchers(cfg Config, breakers *breaker.Registry) []Fetcher {
	client := newClient(cfg.FetchTimeout, breakers)
	return []Fetcher{
		NewRatesFetcher(client, cfg.FREDAPIKey),
		NewFXFetcher(client, cfg.ExchangeRateAPIKey),
		NewYieldCurveFetcher(client),
		NewVolatilityFetcher(client),
	}
}

// client wraps the outbound HTTP transport shared by the fetchers: breaker
// consultation before each call, upstream rate limiting, failure recording.
type client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	breakers   *breaker.Registry
}

func newClient(timeout time.Duration, breakers *breaker.Registry) *client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		breakers:   breakers,
	}
}

// get performs one guarded upstream request. upstream is the breaker key for
// the remote endpoint; every transport failure or non-2xx response records a
// breaker failure and comes back as a SourceUnavailable error.
func (c *client) get(ctx context.Context, upstream, url string) (*http.Response, error) {
	if c.breakers.IsOpen(upstream) {
		return nil, errors.NewAppError(errors.ErrCodeCircuitOpen,
			fmt.Sprintf("circuit breaker open for %s", upstream), nil)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeTimeout, "rate limiter wait interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breakers.RecordFailure(upstream)
		return nil, errors.WrapError(err, errors.ErrCodeSourceUnavailable,
			fmt.Sprintf("request to %s failed", upstream))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		c.breakers.RecordFailure(upstream)
		return nil, errors.NewAppError(errors.ErrCodeSourceUnavailable,
			fmt.Sprintf("%s returned a non-2xx response", upstream), nil).
			WithContext("status", resp.StatusCode)
	}

	return resp, nil
}

// getJSON performs a guarded request and decodes the JSON body into dest
func (c *client) getJSON(ctx context.Context, upstream, url string, dest interface{}) error {
	resp, err := c.get(ctx, upstream, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		c.breakers.RecordFailure(upstream)
		return errors.WrapError(err, errors.ErrCodeMalformedResponse,
			fmt.Sprintf("failed to decode %s response", upstream)).
			WithDetails(err.Error())
	}

	c.breakers.RecordSuccess(upstream)
	return nil
}

// getCSV performs a guarded request and parses the body as CSV records
func (c *client) getCSV(ctx context.Context, upstream, url string) ([][]string, error) {
	resp, err := c.get(ctx, upstream, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		c.breakers.RecordFailure(upstream)
		return nil, errors.WrapError(err, errors.ErrCodeMalformedResponse,
			fmt.Sprintf("failed to parse %s response", upstream))
	}

	c.breakers.RecordSuccess(upstream)
	return records, nil
}
