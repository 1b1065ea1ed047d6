// internal/feedback/feedback.go
// Builders that turn validation and QA results into natural-language
// regeneration instructions for the code generator. Pure text in, text out.
package feedback

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

// FromTechnicalErrors renders the detected technical issues as a numbered
// instruction list, restating the variation's goal so the regeneration does
// not drift from the original request.
func FromTechnicalErrors(result schemas.TestResult, goal string) string {
	var b strings.Builder

	b.WriteString("The previous code produced technical errors that must be fixed:\n")
	for i, issue := range result.Errors {
		fmt.Fprintf(&b, "%d. %s\n", i+1, issue)
	}
	b.WriteString("\nRegenerate the code so it accomplishes the original goal")
	if goal != "" {
		fmt.Fprintf(&b, ": %q", goal)
	}
	b.WriteString(".\n")
	b.WriteString("Use only standard DOM APIs; do not assume jQuery or any other injected library is available. ")
	b.WriteString("Only reference elements that exist on the page, or create them explicitly before use.")

	return b.String()
}

// FromVisualDefects renders each visual defect with severity, type,
// description and suggested fix. The second return value is false when there
// is nothing actionable; the caller must then stop iterating rather than loop
// on empty feedback.
func FromVisualDefects(qa schemas.QAResult, elementContext string) (string, bool) {
	if len(qa.Defects) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString("Visual review found the following problems with the applied change:\n")
	for i, d := range qa.Defects {
		fmt.Fprintf(&b, "%d. [%s/%s] %s", i+1, d.Severity, d.Type, d.Description)
		if d.SuggestedFix != "" {
			fmt.Fprintf(&b, " Suggested fix: %s", d.SuggestedFix)
		}
		b.WriteString("\n")
	}

	if !qa.GoalAccomplished {
		b.WriteString("\nThe original goal has not been accomplished yet.\n")
	}
	if elementContext != "" {
		fmt.Fprintf(&b, "\nPage context: %s\n", elementContext)
	}
	b.WriteString("\nAdjust the code to resolve every problem above while keeping the intended change intact.")

	return b.String(), true
}
