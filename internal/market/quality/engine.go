package quality

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"treasuryd/internal/types"
)

// Rate bounds in percent. Interest rates outside this band are considered
// reporting errors rather than market conditions.
var (
	minRate = decimal.NewFromInt(-1)
	maxRate = decimal.NewFromInt(25)
)

// Categories every complete snapshot is expected to carry. A source that
// failed entirely shows up here as a missing category.
var requiredCategories = []string{
	types.CategoryInterestRates,
	types.CategoryExchangeRates,
	types.CategoryYieldCurve,
}

// Config holds the validation thresholds
type Config struct {
	PassScore       float64       // minimum score for passed_validation
	StalenessWindow time.Duration // readings older than this are stale
}

// Engine runs the stateless validation rules against a snapshot
type Engine struct {
	passScore       float64
	stalenessWindow time.Duration
	now             func() time.Time
}

// NewEngine creates a quality rule engine
func NewEngine(cfg Config) *Engine {
	passScore := cfg.PassScore
	if passScore <= 0 {
		passScore = 70
	}
	window := cfg.StalenessWindow
	if window <= 0 {
		window = 48 * time.Hour
	}
	return &Engine{
		passScore:       passScore,
		stalenessWindow: window,
		now:             time.Now,
	}
}

// Validate runs all rules against a snapshot and derives the quality score.
// The result is deterministic: validating the same snapshot twice yields an
// identical report.
func (e *Engine) Validate(snapshot *types.Snapshot, source string) *Report {
	report := &Report{
		Source:       source,
		SnapshotID:   snapshot.ID,
		TotalRecords: snapshot.Len(),
		Timestamp:    e.now(),
	}

	report.Issues = append(report.Issues, e.checkCategories(snapshot)...)

	for _, path := range snapshot.FieldPaths() {
		reading := snapshot.Readings[path]
		report.Issues = append(report.Issues, e.checkReading(path, reading)...)
	}

	sortIssues(report.Issues)

	report.QualityScore = Score(report.Issues)
	// A snapshot passes only when it scores above the threshold and carries
	// no hard rule violations. Warnings degrade the score without failing it.
	report.PassedValidation = report.QualityScore >= e.passScore && !report.HasErrors()

	return report
}

// Finalize folds extra issues (e.g. detected outliers) into a report and
// recomputes the score and validation gate.
func (e *Engine) Finalize(report *Report, extra []Issue) {
	report.Issues = append(report.Issues, extra...)
	sortIssues(report.Issues)
	report.QualityScore = Score(report.Issues)
	report.PassedValidation = report.QualityScore >= e.passScore && !report.HasErrors()
}

// checkCategories flags required categories with no readings at all
func (e *Engine) checkCategories(snapshot *types.Snapshot) []Issue {
	var issues []Issue
	for _, category := range requiredCategories {
		if len(snapshot.Category(category)) == 0 {
			issues = append(issues, Issue{
				FieldName: category,
				IssueType: IssueMissingField,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("no readings for category %s", category),
			})
		}
	}
	return issues
}

// checkReading applies the range, format, completeness and staleness rules
// to one reading.
func (e *Engine) checkReading(path string, r types.Reading) []Issue {
	var issues []Issue

	// Range check
	switch category(path) {
	case types.CategoryInterestRates, types.CategoryYieldCurve:
		if r.Value.LessThan(minRate) || r.Value.GreaterThan(maxRate) {
			issues = append(issues, Issue{
				FieldName: path,
				IssueType: IssueInvalidRange,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("rate %s outside [%s%%, %s%%]", r.Value, minRate, maxRate),
			})
		}
	case types.CategoryExchangeRates:
		if r.Value.LessThanOrEqual(decimal.Zero) {
			issues = append(issues, Issue{
				FieldName: path,
				IssueType: IssueInvalidRange,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("exchange rate %s is not positive", r.Value),
			})
		}
	}

	// Format check
	if r.EffectiveDate != "" {
		if _, err := ParseISODate(r.EffectiveDate); err != nil {
			issues = append(issues, Issue{
				FieldName: path,
				IssueType: IssueInvalidFormat,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("effective date %q is not ISO-8601", r.EffectiveDate),
			})
		}
	}

	// Completeness check: a reading without timestamps cannot be trusted,
	// a reading without source attribution merely loses provenance.
	if r.Timestamp.IsZero() && r.EffectiveDate == "" {
		issues = append(issues, Issue{
			FieldName: path,
			IssueType: IssueMissingField,
			Severity:  SeverityError,
			Message:   "reading has neither timestamp nor effective date",
		})
	}
	if r.Source == "" {
		issues = append(issues, Issue{
			FieldName: path,
			IssueType: IssueMissingField,
			Severity:  SeverityWarning,
			Message:   "reading has no source attribution",
		})
	}

	// Staleness check
	if ts := effectiveTime(r); !ts.IsZero() && e.now().Sub(ts) > e.stalenessWindow {
		issues = append(issues, Issue{
			FieldName: path,
			IssueType: IssueStaleData,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("reading is older than %s", e.stalenessWindow),
		})
	}

	return issues
}

// Score derives the 0-100 quality score from a set of issues
func Score(issues []Issue) float64 {
	score := 100.0
	for _, issue := range issues {
		score -= severityPenalty[issue.Severity]
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ParseISODate parses the ISO-8601 layouts upstream sources report
func ParseISODate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

func effectiveTime(r types.Reading) time.Time {
	if !r.Timestamp.IsZero() {
		return r.Timestamp
	}
	if r.EffectiveDate != "" {
		if ts, err := ParseISODate(r.EffectiveDate); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func category(path string) string {
	if idx := strings.Index(path, "."); idx > 0 {
		return path[:idx]
	}
	return path
}

func sortIssues(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].FieldName != issues[j].FieldName {
			return issues[i].FieldName < issues[j].FieldName
		}
		return issues[i].IssueType < issues[j].IssueType
	})
}
