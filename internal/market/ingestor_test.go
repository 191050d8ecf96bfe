package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryd/internal/cache"
	"treasuryd/internal/market/breaker"
	"treasuryd/internal/market/quality"
	"treasuryd/internal/market/source"
	"treasuryd/internal/monitor"
	"treasuryd/internal/types"
)

type fakeFetcher struct {
	name     string
	category string
	frag     types.Fragment
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeFetcher) Name() string     { return f.name }
func (f *fakeFetcher) Category() string { return f.category }

func (f *fakeFetcher) Fetch(ctx context.Context) (types.Fragment, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.frag, nil
}

type fakeStore struct {
	saved   []*types.Snapshot
	reports []*quality.Report
	saveErr error
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, snapshot *types.Snapshot, report *quality.Report) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, snapshot)
	s.reports = append(s.reports, report)
	return nil
}

func (s *fakeStore) GetRecentSnapshots(ctx context.Context, limit int) ([]*types.Snapshot, error) {
	n := len(s.saved)
	if limit < n {
		n = limit
	}
	out := make([]*types.Snapshot, 0, n)
	for i := len(s.saved) - 1; i >= len(s.saved)-n; i-- {
		out = append(out, s.saved[i])
	}
	return out, nil
}

func (s *fakeStore) GetLatestSnapshot(ctx context.Context) (*types.Snapshot, error) {
	if len(s.saved) == 0 {
		return nil, nil
	}
	return s.saved[len(s.saved)-1], nil
}

func reading(value float64, src string) types.Reading {
	return types.Reading{
		Value:         decimal.NewFromFloat(value),
		EffectiveDate: time.Now().Format("2006-01-02"),
		Timestamp:     time.Now(),
		Source:        src,
	}
}

func healthyFetchers() []source.Fetcher {
	return []source.Fetcher{
		&fakeFetcher{
			name:     "federal_reserve_rates",
			category: types.CategoryInterestRates,
			frag: types.Fragment{
				"interest_rates.fed_funds.rate": reading(5.33, "fred"),
				"interest_rates.sofr.rate":      reading(5.31, "fred"),
			},
		},
		&fakeFetcher{
			name:     "exchange_rates",
			category: types.CategoryExchangeRates,
			frag: types.Fragment{
				"exchange_rates.EUR.rate": reading(0.92, "exchangerate_api"),
				"exchange_rates.GBP.rate": reading(0.79, "exchangerate_api"),
			},
		},
		&fakeFetcher{
			name:     "treasury_yield_curve",
			category: types.CategoryYieldCurve,
			frag: types.Fragment{
				"yield_curve.2Y.rate":  reading(4.0, "treasury_gov"),
				"yield_curve.10Y.rate": reading(4.5, "treasury_gov"),
			},
		},
	}
}

func newTestIngestor(fetchers []source.Fetcher, store Store) *Ingestor {
	return NewIngestor(
		fetchers,
		breaker.NewRegistry(3, 5*time.Minute),
		quality.NewEngine(quality.Config{PassScore: 70, StalenessWindow: 48 * time.Hour}),
		quality.NewDetector(quality.DetectorConfig{}),
		store,
		cache.NewMemoryCache(100),
		monitor.NewMetricsCollector(),
		Config{FetchTimeout: time.Second, CycleTimeout: 5 * time.Second},
	)
}

func TestIngestMarketDataHappyPath(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(healthyFetchers(), store)

	result := ing.IngestMarketData(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, PipelineSource, result.Source)
	assert.Equal(t, 6, result.RecordsProcessed)
	assert.Empty(t, result.Errors)
	require.NotNil(t, result.QualityReport)
	assert.True(t, result.QualityReport.PassedValidation)
	require.Len(t, store.saved, 1)
	assert.Equal(t, result.CycleID, store.saved[0].ID)
	assert.Equal(t, result, ing.LastResult())
}

func TestIngestMarketDataIsolatesFailedSource(t *testing.T) {
	fetchers := healthyFetchers()
	fetchers = append(fetchers, &fakeFetcher{
		name:     "volatility_index",
		category: types.CategoryIndicators,
		err:      fmt.Errorf("upstream timeout"),
	})
	store := &fakeStore{}
	ing := newTestIngestor(fetchers, store)

	result := ing.IngestMarketData(context.Background())

	// One source failing degrades the snapshot, it does not abort the cycle.
	assert.True(t, result.Success)
	assert.Equal(t, 6, result.RecordsProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "volatility_index")
	require.Len(t, store.saved, 1)
}

func TestIngestMarketDataHangingSourceHitsFetchTimeout(t *testing.T) {
	fetchers := healthyFetchers()
	fetchers = append(fetchers, &fakeFetcher{
		name:     "volatility_index",
		category: types.CategoryIndicators,
		delay:    10 * time.Second,
		frag:     types.Fragment{source.VolatilityFieldPath: reading(15.0, "stooq")},
	})
	store := &fakeStore{}
	ing := newTestIngestor(fetchers, store)
	ing.cfg.FetchTimeout = 50 * time.Millisecond

	started := time.Now()
	result := ing.IngestMarketData(context.Background())

	assert.True(t, result.Success)
	assert.Less(t, time.Since(started), 2*time.Second)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "volatility_index")
}

func TestIngestMarketDataEmptySnapshotFails(t *testing.T) {
	fetchers := []source.Fetcher{
		&fakeFetcher{name: "federal_reserve_rates", category: types.CategoryInterestRates, err: fmt.Errorf("down")},
		&fakeFetcher{name: "exchange_rates", category: types.CategoryExchangeRates, err: fmt.Errorf("down")},
	}
	store := &fakeStore{}
	ing := newTestIngestor(fetchers, store)

	result := ing.IngestMarketData(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.RecordsProcessed)
	assert.Empty(t, store.saved, "an empty snapshot must not be persisted")
	require.NotNil(t, result.QualityReport)
	assert.False(t, result.QualityReport.PassedValidation)
}

func TestIngestMarketDataPersistenceFailure(t *testing.T) {
	store := &fakeStore{saveErr: fmt.Errorf("connection refused")}
	ing := newTestIngestor(healthyFetchers(), store)

	result := ing.IngestMarketData(context.Background())

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "persistence failed")
}

func TestIngestMarketDataDetectsOutlierAgainstHistory(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(healthyFetchers(), store)

	// Build up stable history first.
	for n := 0; n < 5; n++ {
		result := ing.IngestMarketData(context.Background())
		require.True(t, result.Success)
	}

	spiked := healthyFetchers()
	spiked[0].(*fakeFetcher).frag["interest_rates.fed_funds.rate"] = reading(50.0, "fred")
	ing.fetchers = spiked

	result := ing.IngestMarketData(context.Background())

	require.NotNil(t, result.QualityReport)
	var found bool
	for _, issue := range result.QualityReport.Issues {
		if issue.IssueType == quality.IssueOutlier {
			found = true
		}
	}
	assert.True(t, found, "a spiked reading should be flagged as an outlier")
}

func TestGetTreasuryYieldCurveOrdering(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(healthyFetchers(), store)
	require.True(t, ing.IngestMarketData(context.Background()).Success)

	curve, err := ing.GetTreasuryYieldCurve(context.Background())
	require.NoError(t, err)
	require.Len(t, curve, 2)
	assert.Equal(t, "2Y", curve[0].Maturity)
	assert.Equal(t, "10Y", curve[1].Maturity)
	assert.InDelta(t, 4.5, curve[1].Rate.InexactFloat64(), 1e-9)
}

func TestGetRatesBeforeFirstIngestion(t *testing.T) {
	ing := newTestIngestor(healthyFetchers(), &fakeStore{})

	_, err := ing.GetFederalReserveRates(context.Background())
	assert.Error(t, err)
}

func TestBuildSummarySlopeAndSentiment(t *testing.T) {
	snapshot := types.NewSnapshot("s1", time.Now())
	snapshot.Merge(types.Fragment{
		"interest_rates.fed_funds.rate": reading(6.0, "fred"),
		"yield_curve.2Y.rate":           reading(4.0, "treasury_gov"),
		"yield_curve.10Y.rate":          reading(4.5, "treasury_gov"),
		source.VolatilityFieldPath:      reading(22.5, "stooq"),
	})

	summary := BuildSummary(snapshot)

	require.NotNil(t, summary.MarketIndicators.YieldCurveSlope)
	assert.InDelta(t, 0.5, summary.MarketIndicators.YieldCurveSlope.InexactFloat64(), 1e-9)
	assert.Equal(t, types.SentimentRiskOff, summary.MarketIndicators.RiskSentiment)
	require.NotNil(t, summary.MarketIndicators.VolatilityIndex)
	assert.InDelta(t, 22.5, summary.MarketIndicators.VolatilityIndex.InexactFloat64(), 1e-9)
}

func TestBuildSummarySentimentBands(t *testing.T) {
	tests := []struct {
		fedFunds  float64
		sentiment string
	}{
		{6.0, types.SentimentRiskOff},
		{1.0, types.SentimentRiskOn},
		{3.5, types.SentimentNeutral},
		{5.5, types.SentimentNeutral},
		{2.0, types.SentimentNeutral},
	}

	for _, tt := range tests {
		snapshot := types.NewSnapshot("s1", time.Now())
		snapshot.Merge(types.Fragment{
			"interest_rates.fed_funds.rate": reading(tt.fedFunds, "fred"),
		})
		summary := BuildSummary(snapshot)
		assert.Equal(t, tt.sentiment, summary.MarketIndicators.RiskSentiment,
			"fed funds %.2f", tt.fedFunds)
	}
}

func TestBuildSummaryMissingMaturities(t *testing.T) {
	snapshot := types.NewSnapshot("s1", time.Now())
	snapshot.Merge(types.Fragment{
		"yield_curve.10Y.rate": reading(4.5, "treasury_gov"),
	})

	summary := BuildSummary(snapshot)

	assert.Nil(t, summary.MarketIndicators.YieldCurveSlope, "slope needs both 2Y and 10Y")
	assert.Equal(t, types.SentimentNeutral, summary.MarketIndicators.RiskSentiment)
	assert.Nil(t, summary.MarketIndicators.VolatilityIndex)
}

func TestGetMarketSummaryServedFromCache(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(healthyFetchers(), store)
	require.True(t, ing.IngestMarketData(context.Background()).Success)

	first, err := ing.GetMarketSummary(context.Background())
	require.NoError(t, err)

	// Drop the backing store; a cached summary must still be served.
	store.saved = nil
	second, err := ing.GetMarketSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.InterestRates, second.InterestRates)
}

func TestCircuitBreakerBoundaryOps(t *testing.T) {
	ing := newTestIngestor(healthyFetchers(), &fakeStore{})

	assert.False(t, ing.IsCircuitOpen("fred"))
	for n := 0; n < 3; n++ {
		ing.RecordCircuitBreakerFailure("fred")
	}
	assert.True(t, ing.IsCircuitOpen("fred"))

	states := ing.BreakerStates()
	require.Contains(t, states, "fred")
	assert.True(t, states["fred"].Open)

	ing.ResetCircuitBreaker("fred")
	assert.False(t, ing.IsCircuitOpen("fred"))
}
