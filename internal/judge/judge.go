// internal/judge/judge.go
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/llmutil"
)

// Judge implements schemas.VisualJudge: it sends the before/after screenshots
// and the original request to a multimodal model and parses the structured
// verdict.
type Judge struct {
	logger *zap.Logger
	llm    schemas.LLMClient
}

// New creates a visual judge over the given LLM client.
func New(logger *zap.Logger, llm schemas.LLMClient) *Judge {
	return &Judge{
		logger: logger.Named("visual-judge"),
		llm:    llm,
	}
}

const systemPrompt = `You are a meticulous visual QA reviewer for A/B-test variations. You receive a BEFORE screenshot, an AFTER screenshot, the original change request, and the code that was applied. Judge whether the change was applied correctly and safely. Report only real, visible problems; do not invent defects. Defect severity is "critical" (page broken, content unusable) or "major" (clearly wrong but page still works). Respond with strict JSON:
{"status": "pass" | "goal_not_met" | "critical_defect" | "major_defect", "defects": [{"type": "...", "severity": "critical"|"major", "description": "...", "suggested_fix": "..."}], "goal_accomplished": true|false, "should_continue": true|false}
"should_continue" means another automated regeneration attempt is likely to fix the remaining problems.`

// verdictEnvelope mirrors the JSON the model must return.
type verdictEnvelope struct {
	Status           string           `json:"status"`
	Defects          []defectEnvelope `json:"defects"`
	GoalAccomplished bool             `json:"goal_accomplished"`
	ShouldContinue   *bool            `json:"should_continue"`
}

type defectEnvelope struct {
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	SuggestedFix string `json:"suggested_fix"`
}

// RunQA compares the screenshots and returns the structured verdict.
func (j *Judge) RunQA(ctx context.Context, req schemas.QARequest) (*schemas.QAResult, error) {
	if len(req.Before) == 0 || len(req.After) == 0 {
		return nil, fmt.Errorf("visual QA requires both before and after screenshots")
	}

	response, err := j.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(req),
		Images: []schemas.ImagePart{
			{MIMEType: "image/png", Data: req.Before},
			{MIMEType: "image/png", Data: req.After},
		},
		Tier: schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("visual QA generation failed: %w", err)
	}

	envelope, err := llmutil.ParseJSONResponse[verdictEnvelope](response)
	if err != nil {
		j.logger.Error("Failed to parse visual QA response.",
			zap.Error(err), zap.String("raw_response", llmutil.Truncate(response, 500)))
		return nil, err
	}

	result := j.toQAResult(envelope, req.Iteration)
	j.logger.Info("Visual QA verdict",
		zap.String("status", string(result.Status)),
		zap.Int("defects", len(result.Defects)),
		zap.Bool("goal_accomplished", result.GoalAccomplished),
		zap.Bool("should_continue", result.ShouldContinue),
	)
	return result, nil
}

// toQAResult sanitizes the model output into a well-formed QAResult.
func (j *Judge) toQAResult(envelope *verdictEnvelope, iteration int) *schemas.QAResult {
	result := &schemas.QAResult{
		GoalAccomplished: envelope.GoalAccomplished,
		Iteration:        iteration,
	}

	switch schemas.QAStatus(strings.ToLower(envelope.Status)) {
	case schemas.QAStatusPass:
		result.Status = schemas.QAStatusPass
	case schemas.QAStatusGoalNotMet:
		result.Status = schemas.QAStatusGoalNotMet
	case schemas.QAStatusCriticalDefect:
		result.Status = schemas.QAStatusCriticalDefect
	case schemas.QAStatusMajorDefect:
		result.Status = schemas.QAStatusMajorDefect
	default:
		j.logger.Warn("Model returned unknown QA status.", zap.String("status", envelope.Status))
		result.Status = schemas.QAStatusError
	}

	for _, d := range envelope.Defects {
		severity := schemas.DefectSeverity(strings.ToLower(d.Severity))
		if severity != schemas.SeverityCritical && severity != schemas.SeverityMajor {
			severity = schemas.SeverityMajor
		}
		result.Defects = append(result.Defects, schemas.Defect{
			Type:         d.Type,
			Severity:     severity,
			Description:  d.Description,
			SuggestedFix: d.SuggestedFix,
		})
	}

	// A pass with defects attached is contradictory; trust the defect list.
	if result.Status == schemas.QAStatusPass && len(result.Defects) > 0 {
		result.Status = schemas.QAStatusMajorDefect
	}

	if envelope.ShouldContinue != nil {
		result.ShouldContinue = *envelope.ShouldContinue
	} else {
		// When the model omits the hint, continue only if something is fixable.
		result.ShouldContinue = result.Status != schemas.QAStatusPass && len(result.Defects) > 0
	}
	return result
}

func buildPrompt(req schemas.QARequest) string {
	var b strings.Builder
	b.WriteString("Compare the two attached screenshots. The first is BEFORE the change, the second is AFTER.\n\n")
	fmt.Fprintf(&b, "**Original request:** %s\n", req.OriginalRequest)
	fmt.Fprintf(&b, "**Iteration:** %d\n", req.Iteration)

	if len(req.PreviousDefects) > 0 {
		b.WriteString("\n**Defects reported on the previous iteration (verify they are fixed):**\n")
		if encoded, err := json.MarshalIndent(req.PreviousDefects, "", "  "); err == nil {
			b.Write(encoded)
			b.WriteString("\n")
		}
	}

	if !req.GeneratedCode.IsEmpty() {
		b.WriteString("\n**Applied CSS:**\n```css\n")
		b.WriteString(req.GeneratedCode.CSS)
		b.WriteString("\n```\n**Applied JS:**\n```javascript\n")
		b.WriteString(req.GeneratedCode.JS)
		b.WriteString("\n```\n")
	}
	return b.String()
}
