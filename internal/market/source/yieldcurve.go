package source

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"treasuryd/internal/errors"
	"treasuryd/internal/types"
)

const upstreamTreasury = "treasury_gov"

// Treasury CSV column headers mapped to our maturity labels
var curveMaturities = []struct {
	column   string
	maturity string
}{
	{"3 Mo", "3M"},
	{"6 Mo", "6M"},
	{"1 Yr", "1Y"},
	{"2 Yr", "2Y"},
	{"5 Yr", "5Y"},
	{"10 Yr", "10Y"},
	{"30 Yr", "30Y"},
}

// YieldCurveFetcher collects the daily treasury par yield curve from the
// treasury.gov public CSV feed. There is no paid primary for this category.
type YieldCurveFetcher struct {
	client  *client
	baseURL string
}

// NewYieldCurveFetcher creates the yield-curve fetcher
func NewYieldCurveFetcher(c *client) *YieldCurveFetcher {
	return &YieldCurveFetcher{
		client:  c,
		baseURL: "https://home.treasury.gov/resource-center/data-chart-center/interest-rates/daily-treasury-rates.csv",
	}
}

func (f *YieldCurveFetcher) Name() string     { return "treasury_yield_curve" }
func (f *YieldCurveFetcher) Category() string { return types.CategoryYieldCurve }

// Fetch returns the most recent par yields for the tracked maturities.
// The CSV feed lists the newest trading day first.
func (f *YieldCurveFetcher) Fetch(ctx context.Context) (types.Fragment, error) {
	year := time.Now().Year()
	reqURL := fmt.Sprintf("%s/%d/all?type=daily_treasury_yield_curve&_format=csv", f.baseURL, year)

	records, err := f.client.getCSV(ctx, upstreamTreasury, reqURL)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.NewAppError(errors.ErrCodeMalformedResponse,
			"treasury yield curve feed returned no data rows", nil)
	}

	header := records[0]
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	dateCol, ok := columns["Date"]
	if !ok {
		return nil, errors.NewAppError(errors.ErrCodeMalformedResponse,
			"treasury yield curve feed is missing the Date column", nil)
	}

	// The reader allows ragged rows, so the data row may be narrower than
	// the header implies.
	latest := records[1]
	if dateCol >= len(latest) {
		return nil, errors.NewAppError(errors.ErrCodeMalformedResponse,
			"treasury yield curve data row is shorter than its header", nil)
	}
	effectiveDate := normalizeTreasuryDate(latest[dateCol])

	frag := make(types.Fragment)
	now := time.Now()
	for _, m := range curveMaturities {
		col, ok := columns[m.column]
		if !ok || col >= len(latest) || latest[col] == "" {
			continue
		}
		value, err := decimal.NewFromString(latest[col])
		if err != nil {
			continue
		}
		frag[curvePath(m.maturity)] = types.Reading{
			Value:         value,
			EffectiveDate: effectiveDate,
			Timestamp:     now,
			Source:        upstreamTreasury,
		}
	}

	if len(frag) == 0 {
		return nil, errors.NewAppError(errors.ErrCodeMalformedResponse,
			"treasury yield curve feed carried no parsable maturities", nil)
	}

	return frag, nil
}

// normalizeTreasuryDate converts the feed's MM/DD/YYYY dates to ISO-8601
func normalizeTreasuryDate(s string) string {
	if ts, err := time.Parse("01/02/2006", s); err == nil {
		return ts.Format("2006-01-02")
	}
	return s
}

func curvePath(maturity string) string {
	return fmt.Sprintf("%s.%s.rate", types.CategoryYieldCurve, maturity)
}
