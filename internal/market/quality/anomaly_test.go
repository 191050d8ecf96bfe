package quality

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryd/internal/types"
)

const fedFundsPath = "interest_rates.fed_funds.rate"

func snapshotWith(path string, value float64) *types.Snapshot {
	s := types.NewSnapshot(fmt.Sprintf("cycle-%f", value), time.Now())
	s.Readings[path] = types.Reading{
		Value:     decimal.NewFromFloat(value),
		Timestamp: time.Now(),
		Source:    "test_source",
	}
	return s
}

func historyOf(path string, values ...float64) []*types.Snapshot {
	history := make([]*types.Snapshot, 0, len(values))
	for _, v := range values {
		history = append(history, snapshotWith(path, v))
	}
	return history
}

func newTestDetector() *Detector {
	return NewDetector(DetectorConfig{
		SigmaThreshold:    3,
		SigmaEscalation:   6,
		RelativeThreshold: 0.5,
		MinHistory:        3,
	})
}

func TestDetectAnomalies_FlagsOutlier(t *testing.T) {
	d := newTestDetector()
	history := historyOf(fedFundsPath,
		5.0, 5.1, 5.2, 5.0, 5.1, 5.2, 5.0, 5.1, 5.2, 5.0)

	issues := d.DetectAnomalies(snapshotWith(fedFundsPath, 15.0), history)

	require.NotEmpty(t, issues)
	assert.Equal(t, fedFundsPath, issues[0].FieldName)
	assert.Equal(t, IssueOutlier, issues[0].IssueType)
	// 15.0 is far beyond the escalation threshold for this series
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestDetectAnomalies_InlierPasses(t *testing.T) {
	d := newTestDetector()
	history := historyOf(fedFundsPath,
		5.0, 5.1, 5.2, 5.0, 5.1, 5.2, 5.0, 5.1, 5.2, 5.0)

	issues := d.DetectAnomalies(snapshotWith(fedFundsPath, 5.15), history)

	assert.Empty(t, issues)
}

func TestDetectAnomalies_ModerateOutlierIsWarning(t *testing.T) {
	d := newTestDetector()
	// stddev is ~0.0831; 4 sigmas above the 5.09 mean is ~5.42
	history := historyOf(fedFundsPath,
		5.0, 5.1, 5.2, 5.0, 5.1, 5.2, 5.0, 5.1, 5.2, 5.0)

	issues := d.DetectAnomalies(snapshotWith(fedFundsPath, 5.42), history)

	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
}

func TestDetectAnomalies_InsufficientHistorySkipped(t *testing.T) {
	d := newTestDetector()
	history := historyOf(fedFundsPath, 5.0, 5.1)

	issues := d.DetectAnomalies(snapshotWith(fedFundsPath, 100.0), history)

	assert.Empty(t, issues, "fields with fewer than min-history points are skipped, not flagged")
}

func TestDetectAnomalies_FlatHistoryUsesRelativeThreshold(t *testing.T) {
	d := newTestDetector()
	history := historyOf(fedFundsPath, 5.0, 5.0, 5.0, 5.0, 5.0)

	// 20% off a flat series: below the 50% relative threshold
	assert.Empty(t, d.DetectAnomalies(snapshotWith(fedFundsPath, 6.0), history))

	// 100% off a flat series: flagged despite zero variance
	issues := d.DetectAnomalies(snapshotWith(fedFundsPath, 10.0), history)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueOutlier, issues[0].IssueType)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
}

func TestDetectAnomalies_FieldAbsentFromHistory(t *testing.T) {
	d := newTestDetector()
	history := historyOf("exchange_rates.EUR.rate", 0.9, 0.91, 0.92, 0.9)

	issues := d.DetectAnomalies(snapshotWith(fedFundsPath, 5.0), history)

	assert.Empty(t, issues)
}
