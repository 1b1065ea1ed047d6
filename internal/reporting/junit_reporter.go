// internal/reporting/junit_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

// JUnitReporter renders the batch as a JUnit XML test suite so CI systems can
// surface per-variation results natively. Accepted maps to a passing test,
// needs_review to a failure, aborted to an error.
type JUnitReporter struct {
	writer io.WriteCloser
}

// NewJUnitReporter takes ownership of the writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{writer: writer}
}

func (r *JUnitReporter) Write(report *Report) error {
	if report == nil {
		return fmt.Errorf("cannot write nil report")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	suite := doc.CreateElement("testsuite")
	suite.CreateAttr("name", "converge")
	suite.CreateAttr("tests", fmt.Sprintf("%d", report.Summary.Total))
	suite.CreateAttr("failures", fmt.Sprintf("%d", report.Summary.NeedsReview))
	suite.CreateAttr("errors", fmt.Sprintf("%d", report.Summary.Aborted))
	suite.CreateAttr("timestamp", report.GeneratedAt.Format("2006-01-02T15:04:05"))
	if report.TargetURL != "" {
		props := suite.CreateElement("properties")
		prop := props.CreateElement("property")
		prop.CreateAttr("name", "target_url")
		prop.CreateAttr("value", report.TargetURL)
	}

	for _, outcome := range report.Outcomes {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", outcome.Name)
		tc.CreateAttr("classname", outcome.VariationID)
		tc.CreateAttr("time", fmt.Sprintf("%.3f", outcome.Duration.Seconds()))

		switch outcome.State {
		case schemas.RunAccepted:
			// Passing testcases carry no child element.
		case schemas.RunNeedsReview:
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", outcome.Reason)
			failure.CreateAttr("type", "needs_review")
			failure.SetText(formatDefects(outcome.Defects))
		case schemas.RunAborted:
			errEl := tc.CreateElement("error")
			errEl.CreateAttr("message", outcome.Reason)
			errEl.CreateAttr("type", "aborted")
		}
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(r.writer); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return nil
}

func (r *JUnitReporter) Close() error {
	return r.writer.Close()
}

func formatDefects(defects []schemas.Defect) string {
	if len(defects) == 0 {
		return ""
	}
	lines := make([]string, 0, len(defects))
	for _, d := range defects {
		lines = append(lines, fmt.Sprintf("[%s/%s] %s", d.Severity, d.Type, d.Description))
	}
	return strings.Join(lines, "\n")
}
