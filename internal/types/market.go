package types

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot categories. A reading's field path is "<category>.<name>.<leaf>",
// e.g. "interest_rates.fed_funds.rate" or "yield_curve.10Y.rate".
const (
	CategoryInterestRates = "interest_rates"
	CategoryExchangeRates = "exchange_rates"
	CategoryYieldCurve    = "yield_curve"
	CategoryIndicators    = "market_indicators"
)

// Reading is one named market observation. Values are fixed-precision
// decimals so repeated ingestions of the same quote round-trip unchanged.
type Reading struct {
	Value         decimal.Decimal `json:"value"`
	EffectiveDate string          `json:"effective_date"` // source-reported, ISO-8601
	Timestamp     time.Time       `json:"timestamp"`      // capture time
	Source        string          `json:"source"`
}

// Fragment is the partial result one source fetcher contributes:
// dotted field path -> reading.
type Fragment map[string]Reading

// Snapshot is a point-in-time set of market readings keyed by dotted field
// path. It is never mutated after capture; each ingestion cycle produces a
// new one.
type Snapshot struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Readings  map[string]Reading `json:"readings"`
}

// NewSnapshot creates an empty snapshot with the given cycle ID
func NewSnapshot(id string, ts time.Time) *Snapshot {
	return &Snapshot{
		ID:        id,
		Timestamp: ts,
		Readings:  make(map[string]Reading),
	}
}

// Merge copies a fragment's readings into the snapshot. Later fragments do
// not overwrite earlier ones; the first source to report a field wins.
func (s *Snapshot) Merge(frag Fragment) {
	for path, r := range frag {
		if _, exists := s.Readings[path]; !exists {
			s.Readings[path] = r
		}
	}
}

// Len returns the number of leaf readings
func (s *Snapshot) Len() int {
	return len(s.Readings)
}

// Category returns the readings under one category, keyed by the remainder
// of the field path.
func (s *Snapshot) Category(category string) map[string]Reading {
	prefix := category + "."
	result := make(map[string]Reading)
	for path, r := range s.Readings {
		if strings.HasPrefix(path, prefix) {
			result[strings.TrimPrefix(path, prefix)] = r
		}
	}
	return result
}

// FieldPaths returns all field paths in deterministic order
func (s *Snapshot) FieldPaths() []string {
	paths := make([]string, 0, len(s.Readings))
	for path := range s.Readings {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// YieldPoint is one maturity on the treasury curve
type YieldPoint struct {
	Maturity string          `json:"maturity"`
	Rate     decimal.Decimal `json:"rate"`
}

// MarketIndicators carries the derived signals of a market summary
type MarketIndicators struct {
	YieldCurveSlope *decimal.Decimal `json:"yield_curve_slope,omitempty"`
	RiskSentiment   string           `json:"risk_sentiment"`
	VolatilityIndex *decimal.Decimal `json:"volatility_index,omitempty"`
}

// MarketSummary is the condensed view of the latest snapshot
type MarketSummary struct {
	Timestamp        time.Time                  `json:"timestamp"`
	InterestRates    map[string]decimal.Decimal `json:"interest_rates"`
	ExchangeRates    map[string]decimal.Decimal `json:"exchange_rates"`
	YieldCurve       []YieldPoint               `json:"yield_curve"`
	MarketIndicators MarketIndicators           `json:"market_indicators"`
}

// Risk sentiment classifications derived from the fed funds rate
const (
	SentimentRiskOff = "risk_off"
	SentimentRiskOn  = "risk_on"
	SentimentNeutral = "neutral"
)
