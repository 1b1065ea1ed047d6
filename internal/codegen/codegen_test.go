package codegen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

type mockLLMClient struct {
	mock.Mock
}

func (m *mockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestGenerateParsesCode(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Options.ForceJSONFormat && req.Tier == schemas.TierPowerful
	})).Return(`{"css":".cta { background: green; }","js":"","explanation":"recolors the cta"}`, nil).Once()

	svc := NewService(zap.NewNop(), llm)
	resp, err := svc.Generate(context.Background(), schemas.CodeRequest{
		Instruction: "make the cta green",
		Page:        &schemas.PageData{URL: "https://example.com", Title: "Example"},
	})
	require.NoError(t, err)

	assert.Equal(t, ".cta { background: green; }", resp.Code.CSS)
	assert.Empty(t, resp.Code.JS)
	llm.AssertExpectations(t)
}

func TestGenerateCleansFencedCode(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return("```json\n{\"css\":\"```css\\n.x { color: red; }\\n```\",\"js\":\"\"}\n```", nil).Once()

	svc := NewService(zap.NewNop(), llm)
	resp, err := svc.Generate(context.Background(), schemas.CodeRequest{Instruction: "recolor"})
	require.NoError(t, err)
	assert.Equal(t, ".x { color: red; }", resp.Code.CSS)
}

func TestGenerateEmptyCodeIsError(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"css":"","js":"","explanation":"nothing to do"}`, nil).Once()

	svc := NewService(zap.NewNop(), llm)
	_, err := svc.Generate(context.Background(), schemas.CodeRequest{Instruction: "noop"})
	require.ErrorIs(t, err, ErrEmptyCode)
}

func TestGenerateUnparseableResponseIsError(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return("I cannot write code today.", nil).Once()

	svc := NewService(zap.NewNop(), llm)
	_, err := svc.Generate(context.Background(), schemas.CodeRequest{Instruction: "anything"})
	require.Error(t, err)
}

func TestAdjustIncludesPreviousCodeAndFeedback(t *testing.T) {
	var captured schemas.GenerationRequest
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(schemas.GenerationRequest)
		}).
		Return(`{"css":"","js":"document.querySelector('.cta').textContent = 'Join';"}`, nil).Once()

	svc := NewService(zap.NewNop(), llm)
	resp, err := svc.Adjust(context.Background(), schemas.AdjustRequest{
		Instruction: "change the cta label",
		Previous:    schemas.GeneratedCode{JS: "document.querySelector('.cta-btn').textContent = 'Join';"},
		Feedback:    "1. Element not found: .cta-btn",
	})
	require.NoError(t, err)

	assert.Contains(t, captured.UserPrompt, ".cta-btn")
	assert.Contains(t, captured.UserPrompt, "Element not found")
	assert.Contains(t, captured.UserPrompt, "change the cta label")
	assert.Contains(t, resp.Code.JS, ".cta")
}
