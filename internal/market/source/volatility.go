package source

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"treasuryd/internal/errors"
	"treasuryd/internal/types"
)

const upstreamStooq = "stooq"

// VolatilityFieldPath is where the market summary reads the VIX level from
var VolatilityFieldPath = fmt.Sprintf("%s.volatility_index.value", types.CategoryIndicators)

// VolatilityFetcher collects the CBOE volatility index from the stooq public
// quote feed. Purely a passthrough indicator; no fallback chain.
type VolatilityFetcher struct {
	client  *client
	baseURL string
}

// NewVolatilityFetcher creates the volatility-index fetcher
func NewVolatilityFetcher(c *client) *VolatilityFetcher {
	return &VolatilityFetcher{
		client:  c,
		baseURL: "https://stooq.com",
	}
}

func (f *VolatilityFetcher) Name() string     { return "volatility_index" }
func (f *VolatilityFetcher) Category() string { return types.CategoryIndicators }

// Fetch returns the latest VIX close. Stooq's CSV layout is
// Symbol,Date,Time,Open,High,Low,Close,Volume.
func (f *VolatilityFetcher) Fetch(ctx context.Context) (types.Fragment, error) {
	reqURL := fmt.Sprintf("%s/q/l/?s=^vix&f=sd2t2ohlcv&h&e=csv", f.baseURL)

	records, err := f.client.getCSV(ctx, upstreamStooq, reqURL)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 || len(records[1]) < 7 {
		return nil, errors.NewAppError(errors.ErrCodeMalformedResponse,
			"stooq quote feed returned no data row", nil)
	}

	row := records[1]
	value, err := decimal.NewFromString(row[6])
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMalformedResponse,
			fmt.Sprintf("stooq close %q is not numeric", row[6]))
	}

	return types.Fragment{
		VolatilityFieldPath: types.Reading{
			Value:         value,
			EffectiveDate: row[1],
			Timestamp:     time.Now(),
			Source:        upstreamStooq,
		},
	}, nil
}
