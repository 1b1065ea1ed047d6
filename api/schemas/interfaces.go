// api/schemas/interfaces.go
package schemas

import (
	"context"
)

// PageHarness is the browser-control boundary the engine depends on. It isolates
// a single tab: injecting and removing code bundles, capturing screenshots, and
// draining console errors. Implementations are external and swappable; the
// engine never talks to a browser directly.
type PageHarness interface {
	// ApplyCode injects the CSS/JS bundle under the given key. Keys are
	// namespaced so ResetByKeyPrefix can remove everything a run injected.
	ApplyCode(ctx context.Context, key string, code GeneratedCode) (*ApplyResult, error)
	// ResetByKeyPrefix removes every injected bundle whose key starts with
	// prefix. Idempotent; safe to call when nothing was injected. Callers
	// treat a timeout as best-effort, not fatal.
	ResetByKeyPrefix(ctx context.Context, prefix string) error
	// CaptureScreenshot returns a PNG of the current viewport. May fail;
	// callers must degrade rather than abort.
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	// CollectConsoleErrors drains the console errors recorded since the last
	// call (the error shim is installed at harness construction).
	CollectConsoleErrors(ctx context.Context) ([]string, error)
	// SelectorExists reports whether the live DOM currently matches selector.
	SelectorExists(ctx context.Context, selector string) (bool, error)
	// CollectPageData returns a structural summary of the page under test.
	CollectPageData(ctx context.Context) (*PageData, error)
}

// CodeRequest asks for a fresh variation from a natural-language instruction.
type CodeRequest struct {
	Instruction string
	Page        *PageData
}

// AdjustRequest asks for a regeneration of existing code given feedback.
type AdjustRequest struct {
	Instruction string
	Page        *PageData
	Previous    GeneratedCode
	Feedback    string
}

// CodeResponse carries the generated bundle plus token accounting.
type CodeResponse struct {
	Code  GeneratedCode
	Usage *Usage
}

// CodeGenerator turns natural-language requests and feedback into CSS/JS.
type CodeGenerator interface {
	Generate(ctx context.Context, req CodeRequest) (*CodeResponse, error)
	Adjust(ctx context.Context, req AdjustRequest) (*CodeResponse, error)
}

// QARequest is the full context the visual judge needs for one comparison.
type QARequest struct {
	OriginalRequest string
	Before          []byte
	After           []byte
	Iteration       int
	PreviousDefects []Defect
	GeneratedCode   GeneratedCode
}

// VisualJudge compares before/after screenshots against the original request
// and returns a structured verdict.
type VisualJudge interface {
	RunQA(ctx context.Context, req QARequest) (*QAResult, error)
}

// ModelTier selects a model by a speed/capability preference.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float32 `json:"top_p,omitempty"`
	TopK            int     `json:"top_k,omitempty"`
}

// ImagePart is an inline image attached to a generation request.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// GenerationRequest encapsulates a complete request to the LLM, including any
// inline images for multimodal prompts.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       []ImagePart
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient abstracts the underlying model provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// RunRecord is one persisted convergence run.
type RunRecord struct {
	ID          string
	VariationID string
	Name        string
	TargetURL   string
	Outcome     RunOutcome
}

// RunStore persists convergence runs and their QA history. Persistence is
// best-effort: a store failure never fails a run.
type RunStore interface {
	SaveRun(ctx context.Context, record *RunRecord) error
	SaveQAResult(ctx context.Context, runID string, result QAResult) error
	GetRunsByTarget(ctx context.Context, targetURL string) ([]RunRecord, error)
	Close()
}
