package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"treasuryd/internal/logger"
	"treasuryd/internal/types"
)

const (
	upstreamExchangeRateAPI = "exchangerate_api"
	upstreamFrankfurter     = "frankfurter"
)

// Major currencies quoted against USD
var fxCurrencies = []string{"EUR", "GBP", "JPY", "CAD", "CHF"}

// FXFetcher collects USD exchange rates. Primary source is exchangerate-api
// (needs an API key); frankfurter.app is the keyless fallback.
type FXFetcher struct {
	client             *client
	apiKey             string
	exchangeRateAPIURL string
	frankfurterURL     string
}

// NewFXFetcher creates the exchange-rates fetcher
func NewFXFetcher(c *client, apiKey string) *FXFetcher {
	return &FXFetcher{
		client:             c,
		apiKey:             apiKey,
		exchangeRateAPIURL: "https://v6.exchangerate-api.com/v6",
		frankfurterURL:     "https://api.frankfurter.app",
	}
}

func (f *FXFetcher) Name() string     { return "exchange_rates" }
func (f *FXFetcher) Category() string { return types.CategoryExchangeRates }

// Fetch returns the latest USD exchange rates for the major currencies
func (f *FXFetcher) Fetch(ctx context.Context) (types.Fragment, error) {
	if f.apiKey != "" {
		frag, err := f.fetchExchangeRateAPI(ctx)
		if err == nil {
			return frag, nil
		}
		logger.Warn("exchangerate-api fetch failed, falling back to frankfurter",
			"fetcher", f.Name(), "error", err.Error())
	}
	return f.fetchFrankfurter(ctx)
}

type exchangeRateAPIResponse struct {
	Result          string             `json:"result"`
	TimeLastUpdate  string             `json:"time_last_update_utc"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

func (f *FXFetcher) fetchExchangeRateAPI(ctx context.Context) (types.Fragment, error) {
	var resp exchangeRateAPIResponse
	reqURL := fmt.Sprintf("%s/%s/latest/USD", f.exchangeRateAPIURL, f.apiKey)
	if err := f.client.getJSON(ctx, upstreamExchangeRateAPI, reqURL, &resp); err != nil {
		return nil, err
	}

	frag := make(types.Fragment)
	now := time.Now()
	for _, currency := range fxCurrencies {
		rate, ok := resp.ConversionRates[currency]
		if !ok {
			continue
		}
		frag[fxPath(currency)] = types.Reading{
			Value:         decimal.NewFromFloat(rate),
			EffectiveDate: now.Format("2006-01-02"),
			Timestamp:     now,
			Source:        upstreamExchangeRateAPI,
		}
	}

	return frag, nil
}

type frankfurterResponse struct {
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

func (f *FXFetcher) fetchFrankfurter(ctx context.Context) (types.Fragment, error) {
	var resp frankfurterResponse
	reqURL := fmt.Sprintf("%s/latest?from=USD&to=%s",
		f.frankfurterURL, strings.Join(fxCurrencies, ","))
	if err := f.client.getJSON(ctx, upstreamFrankfurter, reqURL, &resp); err != nil {
		return nil, err
	}

	frag := make(types.Fragment)
	now := time.Now()
	for currency, rate := range resp.Rates {
		frag[fxPath(currency)] = types.Reading{
			Value:         decimal.NewFromFloat(rate),
			EffectiveDate: resp.Date,
			Timestamp:     now,
			Source:        upstreamFrankfurter,
		}
	}

	return frag, nil
}

func fxPath(currency string) string {
	return fmt.Sprintf("%s.%s.rate", types.CategoryExchangeRates, currency)
}
