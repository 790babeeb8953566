package entity

import "time"

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is a single finding of a validator run.
type ValidationIssue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Details  any      `json:"details,omitempty"`
}

// ValidationSummary aggregates check counts.
type ValidationSummary struct {
	TotalChecks int `json:"totalChecks"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`
	Warnings    int `json:"warnings"`
}

// ValidationReport is the ephemeral result of a validator run.
// Score starts at 100 and loses 5 points per distinct issue category,
// so a single systemic problem cannot collapse it to zero.
type ValidationReport struct {
	Valid     bool              `json:"valid"`
	Score     int               `json:"score"`
	Errors    []ValidationIssue `json:"errors"`
	Warnings  []ValidationIssue `json:"warnings"`
	Info      []ValidationIssue `json:"info"`
	Summary   ValidationSummary `json:"summary"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewValidationReport returns an empty passing report.
func NewValidationReport() *ValidationReport {
	return &ValidationReport{
		Valid:     true,
		Score:     100,
		Errors:    []ValidationIssue{},
		Warnings:  []ValidationIssue{},
		Info:      []ValidationIssue{},
		Timestamp: time.Now().UTC(),
	}
}

// AddError records a failed check.
func (r *ValidationReport) AddError(issue ValidationIssue) {
	issue.Severity = SeverityError
	r.Errors = append(r.Errors, issue)
	r.Summary.Failed++
}

// AddWarning records a suspicious but non-fatal finding.
func (r *ValidationReport) AddWarning(issue ValidationIssue) {
	issue.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, issue)
	r.Summary.Warnings++
}

// Finalize computes the score from distinct issue categories and sets Valid.
func (r *ValidationReport) Finalize() {
	categories := map[string]struct{}{}
	for _, e := range r.Errors {
		categories[e.Code] = struct{}{}
	}
	for _, w := range r.Warnings {
		categories[w.Code] = struct{}{}
	}
	score := 100 - len(categories)*5
	if score < 0 {
		score = 0
	}
	r.Score = score
	r.Valid = len(r.Errors) == 0
}
