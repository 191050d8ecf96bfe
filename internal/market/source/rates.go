package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"treasuryd/internal/errors"
	"treasuryd/internal/logger"
	"treasuryd/internal/types"
)

const (
	upstreamFRED  = "fred"
	upstreamNYFed = "newyorkfed"
)

// FRED series ingested for the interest-rates category
var fredRateSeries = map[string]string{
	"fed_funds": "DFF",
	"sofr":      "SOFR",
	"prime":     "DPRIME",
}

// NY Fed reference-rate types mapped to our field names. Used as the free
// fallback when no FRED key is configured or FRED is unavailable.
var nyfedRateTypes = map[string]string{
	"EFFR": "fed_funds",
	"SOFR": "sofr",
}

// RatesFetcher collects benchmark interest rates. Primary source is FRED
// (needs an API key); the New York Fed public reference-rates API is the
// keyless fallback.
type RatesFetcher struct {
	client       *client
	apiKey       string
	fredBaseURL  string
	nyfedBaseURL string
}

// NewRatesFetcher creates the interest-rates fetcher
func NewRatesFetcher(c *client, apiKey string) *RatesFetcher {
	return &RatesFetcher{
		client:       c,
		apiKey:       apiKey,
		fredBaseURL:  "https://api.stlouisfed.org/fred",
		nyfedBaseURL: "https://markets.newyorkfed.org/api",
	}
}

func (f *RatesFetcher) Name() string     { return "federal_reserve_rates" }
func (f *RatesFetcher) Category() string { return types.CategoryInterestRates }

// Fetch returns the latest benchmark rates, walking the fallback chain:
// FRED when a key is configured, then the NY Fed public API.
func (f *RatesFetcher) Fetch(ctx context.Context) (types.Fragment, error) {
	if f.apiKey != "" {
		frag, err := f.fetchFRED(ctx)
		if err == nil {
			return frag, nil
		}
		logger.Warn("FRED fetch failed, falling back to NY Fed",
			"fetcher", f.Name(), "error", err.Error())
	}
	return f.fetchNYFed(ctx)
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (f *RatesFetcher) fetchFRED(ctx context.Context) (types.Fragment, error) {
	frag := make(types.Fragment)
	now := time.Now()

	for field, seriesID := range fredRateSeries {
		params := url.Values{}
		params.Set("series_id", seriesID)
		params.Set("api_key", f.apiKey)
		params.Set("file_type", "json")
		params.Set("sort_order", "desc")
		params.Set("limit", "1")

		var resp fredObservationsResponse
		reqURL := fmt.Sprintf("%s/series/observations?%s", f.fredBaseURL, params.Encode())
		if err := f.client.getJSON(ctx, upstreamFRED, reqURL, &resp); err != nil {
			return nil, err
		}
		if len(resp.Observations) == 0 {
			continue
		}

		obs := resp.Observations[0]
		value, err := decimal.NewFromString(obs.Value)
		if err != nil {
			// FRED reports "." for dates with no observation
			continue
		}

		frag[ratePath(field)] = types.Reading{
			Value:         value,
			EffectiveDate: obs.Date,
			Timestamp:     now,
			Source:        upstreamFRED,
		}
	}

	// A 200 response with no usable observation for any series is a fetch
	// failure, so the fallback chain still runs.
	if len(frag) == 0 {
		f.client.breakers.RecordFailure(upstreamFRED)
		return nil, errors.NewAppError(errors.ErrCodeMalformedResponse,
			"FRED returned no observations for any tracked series", nil)
	}

	return frag, nil
}

type nyfedRatesResponse struct {
	RefRates []struct {
		Type          string  `json:"type"`
		EffectiveDate string  `json:"effectiveDate"`
		PercentRate   float64 `json:"percentRate"`
	} `json:"refRates"`
}

func (f *RatesFetcher) fetchNYFed(ctx context.Context) (types.Fragment, error) {
	var resp nyfedRatesResponse
	reqURL := fmt.Sprintf("%s/rates/all/latest.json", f.nyfedBaseURL)
	if err := f.client.getJSON(ctx, upstreamNYFed, reqURL, &resp); err != nil {
		return nil, err
	}

	frag := make(types.Fragment)
	now := time.Now()
	for _, ref := range resp.RefRates {
		field, ok := nyfedRateTypes[ref.Type]
		if !ok {
			continue
		}
		frag[ratePath(field)] = types.Reading{
			Value:         decimal.NewFromFloat(ref.PercentRate),
			EffectiveDate: ref.EffectiveDate,
			Timestamp:     now,
			Source:        upstreamNYFed,
		}
	}

	return frag, nil
}

func ratePath(field string) string {
	return fmt.Sprintf("%s.%s.rate", types.CategoryInterestRates, field)
}
