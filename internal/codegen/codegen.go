// internal/codegen/codegen.go
package codegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/llmutil"
)

// ErrEmptyCode is returned when the model responds without any usable code.
// The iteration controller treats this as fatal for the current variation.
var ErrEmptyCode = errors.New("code generator returned no code")

// Service implements schemas.CodeGenerator over an LLM client.
type Service struct {
	logger *zap.Logger
	llm    schemas.LLMClient
}

// NewService creates the generation service.
func NewService(logger *zap.Logger, llm schemas.LLMClient) *Service {
	return &Service{
		logger: logger.Named("codegen"),
		llm:    llm,
	}
}

// codeEnvelope is the strict JSON shape the model must respond with.
type codeEnvelope struct {
	CSS         string `json:"css"`
	JS          string `json:"js"`
	Explanation string `json:"explanation"`
}

const systemPrompt = `You are an expert front-end engineer writing CSS/JS variations for live A/B tests. You produce minimal, self-contained code that modifies an existing page. Rules: use only standard DOM APIs (no jQuery or other libraries), never use document.write or eval, never leave template placeholders in the output, and only reference elements that exist on the page or that your own code creates first. Respond with strict JSON: {"css": "...", "js": "...", "explanation": "..."}. Leave css or js as an empty string when that half is not needed.`

// Generate produces a fresh variation from a natural-language instruction.
func (s *Service) Generate(ctx context.Context, req schemas.CodeRequest) (*schemas.CodeResponse, error) {
	prompt := buildGeneratePrompt(req)
	return s.invoke(ctx, prompt)
}

// Adjust regenerates a variation's code given feedback about the previous
// attempt. The previous code is replaced wholesale, never patched.
func (s *Service) Adjust(ctx context.Context, req schemas.AdjustRequest) (*schemas.CodeResponse, error) {
	prompt := buildAdjustPrompt(req)
	return s.invoke(ctx, prompt)
}

func (s *Service) invoke(ctx context.Context, prompt string) (*schemas.CodeResponse, error) {
	response, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.2,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	envelope, err := llmutil.ParseJSONResponse[codeEnvelope](response)
	if err != nil {
		s.logger.Error("Failed to parse code generation response.",
			zap.Error(err), zap.String("raw_response", llmutil.Truncate(response, 500)))
		return nil, err
	}

	code := schemas.GeneratedCode{
		CSS: llmutil.CleanCodeOutput(envelope.CSS),
		JS:  llmutil.CleanCodeOutput(envelope.JS),
	}
	if code.IsEmpty() {
		return nil, ErrEmptyCode
	}

	s.logger.Debug("Code generated",
		zap.Int("css_bytes", len(code.CSS)),
		zap.Int("js_bytes", len(code.JS)),
		zap.String("explanation", llmutil.Truncate(envelope.Explanation, 200)),
	)
	return &schemas.CodeResponse{Code: code}, nil
}

func buildGeneratePrompt(req schemas.CodeRequest) string {
	var b strings.Builder
	b.WriteString("Write a CSS/JS variation for the following request.\n\n")
	fmt.Fprintf(&b, "**Request:** %s\n", req.Instruction)
	writePageContext(&b, req.Page)
	return b.String()
}

func buildAdjustPrompt(req schemas.AdjustRequest) string {
	var b strings.Builder
	b.WriteString("A previous attempt at this variation needs to be reworked.\n\n")
	fmt.Fprintf(&b, "**Original request:** %s\n", req.Instruction)
	writePageContext(&b, req.Page)

	b.WriteString("\n**Previous CSS:**\n```css\n")
	b.WriteString(req.Previous.CSS)
	b.WriteString("\n```\n\n**Previous JS:**\n```javascript\n")
	b.WriteString(req.Previous.JS)
	b.WriteString("\n```\n\n**Feedback to address:**\n")
	b.WriteString(req.Feedback)
	b.WriteString("\n\nRewrite the variation from scratch so the feedback is fully resolved. Return the complete replacement code, not a diff.")
	return b.String()
}

func writePageContext(b *strings.Builder, page *schemas.PageData) {
	if page == nil {
		return
	}
	fmt.Fprintf(b, "\n**Page under test:** %s (%s)\n", page.Title, page.URL)
	if len(page.Headings) > 0 {
		fmt.Fprintf(b, "Headings: %s\n", strings.Join(page.Headings, " | "))
	}
	if len(page.Buttons) > 0 {
		fmt.Fprintf(b, "Buttons: %s\n", strings.Join(page.Buttons, " | "))
	}
	if len(page.Links) > 0 {
		fmt.Fprintf(b, "Links: %s\n", strings.Join(page.Links, " | "))
	}
}
