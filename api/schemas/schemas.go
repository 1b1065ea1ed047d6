// api/schemas/schemas.go
package schemas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TestStatus tracks where a variation sits in its testing lifecycle.
type TestStatus string

const (
	TestStatusPending TestStatus = "pending"
	TestStatusTesting TestStatus = "testing"
	TestStatusPassed  TestStatus = "passed"
	TestStatusFailed  TestStatus = "failed"
	TestStatusWarning TestStatus = "warning"
)

// QAStatus is the verdict of a single visual QA pass.
type QAStatus string

const (
	QAStatusPass           QAStatus = "pass"
	QAStatusGoalNotMet     QAStatus = "goal_not_met"
	QAStatusCriticalDefect QAStatus = "critical_defect"
	QAStatusMajorDefect    QAStatus = "major_defect"
	QAStatusError          QAStatus = "error"
)

// DefectSeverity classifies how bad a visual defect is.
type DefectSeverity string

const (
	SeverityCritical DefectSeverity = "critical"
	SeverityMajor    DefectSeverity = "major"
)

// RunState is the terminal state of a convergence run.
type RunState string

const (
	RunAccepted    RunState = "accepted"
	RunNeedsReview RunState = "needs_review"
	RunAborted     RunState = "aborted"
)

// GeneratedCode is a CSS/JS bundle produced by the code generator.
type GeneratedCode struct {
	CSS string `json:"css,omitempty"`
	JS  string `json:"js,omitempty"`
}

// IsEmpty reports whether the bundle carries no code at all.
func (g GeneratedCode) IsEmpty() bool {
	return strings.TrimSpace(g.CSS) == "" && strings.TrimSpace(g.JS) == ""
}

// Variation is a named CSS/JS bundle meant to realize one arm of an experiment.
// It is owned by the run that generated it and mutated only by the iteration
// controller; regeneration replaces the code wholesale, never patches in place.
type Variation struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Goal       string        `json:"goal"`
	Code       GeneratedCode `json:"code"`
	TestStatus TestStatus    `json:"test_status"`
	QAHistory  []QAResult    `json:"qa_history,omitempty"`
}

// TestResult captures one apply attempt. Immutable once produced.
type TestResult struct {
	VariationID string    `json:"variation_id"`
	Timestamp   time.Time `json:"timestamp"`
	Errors      []string  `json:"errors,omitempty"`
	Screenshot  []byte    `json:"-"`
}

// Defect is a single visual problem reported by the judge.
type Defect struct {
	Type         string         `json:"type"`
	Severity     DefectSeverity `json:"severity"`
	Description  string         `json:"description"`
	SuggestedFix string         `json:"suggested_fix,omitempty"`
}

// QAResult is the structured verdict of one visual QA pass.
type QAResult struct {
	Status           QAStatus `json:"status"`
	Defects          []Defect `json:"defects,omitempty"`
	GoalAccomplished bool     `json:"goal_accomplished"`
	ShouldContinue   bool     `json:"should_continue"`
	Iteration        int      `json:"iteration"`
	Usage            *Usage   `json:"usage,omitempty"`
}

// Usage is token accounting for a single LLM round-trip.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ApplyResult is the harness response to an injection request.
type ApplyResult struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ValidationReport separates blocking issues from advisory warnings.
type ValidationReport struct {
	CriticalIssues []string `json:"critical_issues,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// HasCritical reports whether the variation must be regenerated.
func (r ValidationReport) HasCritical() bool { return len(r.CriticalIssues) > 0 }

// PageData is a lightweight structural summary of the page under test,
// used to ground code generation prompts.
type PageData struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Headings []string `json:"headings,omitempty"`
	Buttons  []string `json:"buttons,omitempty"`
	Links    []string `json:"links,omitempty"`
}

// RunOutcome summarizes a finished convergence run for one variation.
type RunOutcome struct {
	VariationID string        `json:"variation_id"`
	Name        string        `json:"name"`
	State       RunState      `json:"state"`
	Iterations  int           `json:"iterations"`
	Defects     []Defect      `json:"defects,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Duration    time.Duration `json:"duration"`
	Usage       Usage         `json:"usage"`
}

// DefectSignature derives a stable key from a defect list: the count plus the
// sorted type/severity multiset. Two QA passes with the same signature mean the
// loop is not converging.
func DefectSignature(defects []Defect) string {
	if len(defects) == 0 {
		return "0"
	}
	parts := make([]string, 0, len(defects))
	for _, d := range defects {
		parts = append(parts, fmt.Sprintf("%s/%s", d.Type, d.Severity))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d:%s", len(defects), strings.Join(parts, ","))
}
