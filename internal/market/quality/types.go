package quality

import "time"

// IssueType enumerates the kinds of data-quality findings
type IssueType string

const (
	IssueMissingField  IssueType = "MISSING_FIELD"
	IssueInvalidRange  IssueType = "INVALID_RANGE"
	IssueInvalidFormat IssueType = "INVALID_FORMAT"
	IssueStaleData     IssueType = "STALE_DATA"
	IssueOutlier       IssueType = "OUTLIER"
)

// Severity classifies how much an issue degrades the snapshot
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Score penalty per issue, weighted by severity
var severityPenalty = map[Severity]float64{
	SeverityInfo:     1,
	SeverityWarning:  5,
	SeverityError:    15,
	SeverityCritical: 30,
}

// Issue is one data-quality finding for a snapshot field
type Issue struct {
	FieldName string    `json:"field_name"`
	IssueType IssueType `json:"issue_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// Report aggregates all issues found for one snapshot
type Report struct {
	Source           string    `json:"source"`
	SnapshotID       string    `json:"snapshot_id"`
	TotalRecords     int       `json:"total_records"`
	QualityScore     float64   `json:"quality_score"`
	PassedValidation bool      `json:"passed_validation"`
	Issues           []Issue   `json:"issues"`
	Timestamp        time.Time `json:"timestamp"`
}

// CriticalIssues returns the issues with CRITICAL severity
func (r *Report) CriticalIssues() []Issue {
	var critical []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			critical = append(critical, issue)
		}
	}
	return critical
}

// HasErrors reports whether any issue is ERROR or CRITICAL
func (r *Report) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
