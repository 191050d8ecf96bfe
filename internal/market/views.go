package market

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"treasuryd/internal/errors"
	"treasuryd/internal/logger"
	"treasuryd/internal/market/source"
	"treasuryd/internal/types"
)

// Maturity labels in curve order, shortest first
var maturityOrder = []string{"3M", "6M", "1Y", "2Y", "5Y", "10Y", "30Y"}

// GetFederalReserveRates returns the interest rates from the latest persisted
// snapshot, keyed by rate name (fed_funds, sofr, prime).
func (i *Ingestor) GetFederalReserveRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	snapshot, err := i.latestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return categoryRates(snapshot, types.CategoryInterestRates), nil
}

// GetExchangeRates returns USD exchange rates from the latest persisted
// snapshot, keyed by currency code.
func (i *Ingestor) GetExchangeRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	snapshot, err := i.latestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return categoryRates(snapshot, types.CategoryExchangeRates), nil
}

// GetTreasuryYieldCurve returns the latest yield curve ordered by maturity,
// shortest first. Maturities absent from the snapshot are omitted.
func (i *Ingestor) GetTreasuryYieldCurve(ctx context.Context) ([]types.YieldPoint, error) {
	snapshot, err := i.latestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return curvePoints(snapshot), nil
}

// GetMarketSummary returns the condensed view of the latest snapshot:
// per-category rates plus the derived indicators. Served from cache when a
// fresh copy exists.
func (i *Ingestor) GetMarketSummary(ctx context.Context) (*types.MarketSummary, error) {
	var cached types.MarketSummary
	if err := i.cache.Get(ctx, summaryCacheKey, &cached); err == nil {
		return &cached, nil
	}

	snapshot, err := i.latestSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	summary := BuildSummary(snapshot)
	if err := i.cache.Set(ctx, summaryCacheKey, summary, i.cfg.SummaryCacheTTL); err != nil {
		logger.Warn("Failed to cache market summary", "error", err.Error())
	}
	return summary, nil
}

func (i *Ingestor) latestSnapshot(ctx context.Context) (*types.Snapshot, error) {
	snapshot, err := i.store.GetLatestSnapshot(ctx)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodePersistenceFailure,
			"failed to load latest snapshot")
	}
	if snapshot == nil {
		return nil, errors.NewAppError(errors.ErrCodeEmptySnapshot,
			"no market snapshot has been ingested yet", nil)
	}
	return snapshot, nil
}

// BuildSummary derives the market summary from one snapshot
func BuildSummary(snapshot *types.Snapshot) *types.MarketSummary {
	summary := &types.MarketSummary{
		Timestamp:     snapshot.Timestamp,
		InterestRates: categoryRates(snapshot, types.CategoryInterestRates),
		ExchangeRates: categoryRates(snapshot, types.CategoryExchangeRates),
		YieldCurve:    curvePoints(snapshot),
		MarketIndicators: types.MarketIndicators{
			RiskSentiment: types.SentimentNeutral,
		},
	}

	if slope, ok := curveSlope(snapshot); ok {
		summary.MarketIndicators.YieldCurveSlope = &slope
	}
	if fedFunds, ok := snapshot.Readings["interest_rates.fed_funds.rate"]; ok {
		summary.MarketIndicators.RiskSentiment = riskSentiment(fedFunds.Value)
	}
	if vix, ok := snapshot.Readings[source.VolatilityFieldPath]; ok {
		value := vix.Value
		summary.MarketIndicators.VolatilityIndex = &value
	}

	return summary
}

// categoryRates flattens a snapshot category into name -> value. The ".rate"
// leaf is dropped from the key.
func categoryRates(snapshot *types.Snapshot, category string) map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal)
	for name, r := range snapshot.Category(category) {
		rates[strings.TrimSuffix(name, ".rate")] = r.Value
	}
	return rates
}

func curvePoints(snapshot *types.Snapshot) []types.YieldPoint {
	curve := snapshot.Category(types.CategoryYieldCurve)
	points := make([]types.YieldPoint, 0, len(curve))
	for _, maturity := range maturityOrder {
		if r, ok := curve[maturity+".rate"]; ok {
			points = append(points, types.YieldPoint{Maturity: maturity, Rate: r.Value})
		}
	}
	return points
}

// curveSlope is the 10Y-2Y spread, the standard inversion signal
func curveSlope(snapshot *types.Snapshot) (decimal.Decimal, bool) {
	tenY, okTen := snapshot.Readings["yield_curve.10Y.rate"]
	twoY, okTwo := snapshot.Readings["yield_curve.2Y.rate"]
	if !okTen || !okTwo {
		return decimal.Decimal{}, false
	}
	return tenY.Value.Sub(twoY.Value), true
}

// riskSentiment classifies the rate environment from the fed funds rate:
// above 5.5% is restrictive (risk_off), below 2% accommodative (risk_on).
func riskSentiment(fedFunds decimal.Decimal) string {
	switch {
	case fedFunds.GreaterThan(riskOffRate):
		return types.SentimentRiskOff
	case fedFunds.LessThan(riskOnRate):
		return types.SentimentRiskOn
	default:
		return types.SentimentNeutral
	}
}
