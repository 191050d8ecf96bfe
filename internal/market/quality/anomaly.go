package quality

import (
	"fmt"
	"math"

	"treasuryd/internal/types"
)

// DetectorConfig holds the outlier detection thresholds
type DetectorConfig struct {
	SigmaThreshold    float64 // deviations beyond this many sigmas are outliers
	SigmaEscalation   float64 // deviations beyond this many sigmas become errors
	RelativeThreshold float64 // fallback relative deviation for flat history
	MinHistory        int     // fields with fewer historical points are skipped
}

// Detector flags current readings that are statistically inconsistent with
// recent history.
type Detector struct {
	sigma      float64
	escalation float64
	relative   float64
	minHistory int
}

// NewDetector creates an anomaly detector
func NewDetector(cfg DetectorConfig) *Detector {
	d := &Detector{
		sigma:      cfg.SigmaThreshold,
		escalation: cfg.SigmaEscalation,
		relative:   cfg.RelativeThreshold,
		minHistory: cfg.MinHistory,
	}
	if d.sigma <= 0 {
		d.sigma = 3
	}
	if d.escalation <= 0 {
		d.escalation = 6
	}
	if d.relative <= 0 {
		d.relative = 0.5
	}
	if d.minHistory <= 0 {
		d.minHistory = 3
	}
	return d
}

// DetectAnomalies compares each scalar field of the current snapshot against
// its historical series and returns OUTLIER issues for values that deviate
// from the mean by more than the sigma threshold. When the history has
// near-zero variance the relative-deviation fallback is used instead, so a
// jump away from a flat series is still caught.
func (d *Detector) DetectAnomalies(current *types.Snapshot, history []*types.Snapshot) []Issue {
	var issues []Issue

	for _, path := range current.FieldPaths() {
		value := current.Readings[path].Value.InexactFloat64()

		series := historicalSeries(path, history)
		if len(series) < d.minHistory {
			continue
		}

		mean, stddev := meanStddev(series)
		deviation := math.Abs(value - mean)

		if stddev < 1e-9 {
			// Flat history: sigma distance is meaningless, use relative deviation
			var relDev float64
			if math.Abs(mean) > 1e-9 {
				relDev = deviation / math.Abs(mean)
			} else if deviation > 0 {
				relDev = math.Inf(1)
			}
			if relDev > d.relative {
				issues = append(issues, Issue{
					FieldName: path,
					IssueType: IssueOutlier,
					Severity:  SeverityWarning,
					Message: fmt.Sprintf("value %.4f deviates %.0f%% from flat historical mean %.4f",
						value, relDev*100, mean),
				})
			}
			continue
		}

		sigmas := deviation / stddev
		if sigmas <= d.sigma {
			continue
		}

		severity := SeverityWarning
		if sigmas > d.escalation {
			severity = SeverityError
		}
		issues = append(issues, Issue{
			FieldName: path,
			IssueType: IssueOutlier,
			Severity:  severity,
			Message: fmt.Sprintf("value %.4f is %.1f sigmas from historical mean %.4f (stddev %.4f, n=%d)",
				value, sigmas, mean, stddev, len(series)),
		})
	}

	return issues
}

// historicalSeries collects the values a field took across the history,
// skipping snapshots that never carried it.
func historicalSeries(path string, history []*types.Snapshot) []float64 {
	var series []float64
	for _, snapshot := range history {
		if reading, ok := snapshot.Readings[path]; ok {
			series = append(series, reading.Value.InexactFloat64())
		}
	}
	return series
}

func meanStddev(series []float64) (float64, float64) {
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var sq float64
	for _, v := range series {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(series)))
}
