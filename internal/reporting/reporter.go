// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

// Report is the envelope written at the end of a batch run.
type Report struct {
	TargetURL   string               `json:"target_url"`
	GeneratedAt time.Time            `json:"generated_at"`
	Summary     Summary              `json:"summary"`
	Outcomes    []schemas.RunOutcome `json:"outcomes"`
}

// Summary counts outcomes by terminal state.
type Summary struct {
	Total       int `json:"total"`
	Accepted    int `json:"accepted"`
	NeedsReview int `json:"needs_review"`
	Aborted     int `json:"aborted"`
}

// NewReport assembles the envelope from a batch of outcomes.
func NewReport(targetURL string, outcomes []schemas.RunOutcome) *Report {
	r := &Report{
		TargetURL:   targetURL,
		GeneratedAt: time.Now().UTC(),
		Outcomes:    outcomes,
	}
	r.Summary.Total = len(outcomes)
	for _, o := range outcomes {
		switch o.State {
		case schemas.RunAccepted:
			r.Summary.Accepted++
		case schemas.RunNeedsReview:
			r.Summary.NeedsReview++
		case schemas.RunAborted:
			r.Summary.Aborted++
		}
	}
	return r
}

// Reporter writes a finished report to an output.
type Reporter interface {
	// Write serializes the report to the underlying writer.
	Write(report *Report) error
	// Close finalizes the report and closes any underlying resources.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format. An empty or "stdout" output
// path writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	cleanup := func() {
		if !isStdOut {
			writer.Close()
		}
	}

	switch format {
	case "json":
		return NewJSONReporter(writer), nil
	case "junit":
		return NewJUnitReporter(writer), nil
	default:
		cleanup()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
