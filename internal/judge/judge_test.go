package judge

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

func qaRequest() schemas.QARequest {
	return schemas.QARequest{
		OriginalRequest: "make the cta green",
		Before:          []byte("before-png"),
		After:           []byte("after-png"),
		Iteration:       1,
	}
}

func TestRunQARequiresScreenshots(t *testing.T) {
	j := New(zap.NewNop(), &mockLLMClient{})

	req := qaRequest()
	req.After = nil
	_, err := j.RunQA(context.Background(), req)
	require.Error(t, err)
}

func TestRunQASendsBothImages(t *testing.T) {
	var captured schemas.GenerationRequest
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(schemas.GenerationRequest) }).
		Return(`{"status":"pass","defects":[],"goal_accomplished":true,"should_continue":false}`, nil).Once()

	j := New(zap.NewNop(), llm)
	result, err := j.RunQA(context.Background(), qaRequest())
	require.NoError(t, err)

	assert.Equal(t, schemas.QAStatusPass, result.Status)
	assert.True(t, result.GoalAccomplished)
	require.Len(t, captured.Images, 2)
	assert.Equal(t, []byte("before-png"), captured.Images[0].Data)
	assert.Equal(t, []byte("after-png"), captured.Images[1].Data)
	assert.True(t, captured.Options.ForceJSONFormat)
}

func TestRunQAParsesDefects(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"status":"major_defect","defects":[{"type":"contrast","severity":"major","description":"text unreadable","suggested_fix":"darker text"}],"goal_accomplished":true,"should_continue":true}`, nil).Once()

	j := New(zap.NewNop(), llm)
	result, err := j.RunQA(context.Background(), qaRequest())
	require.NoError(t, err)

	assert.Equal(t, schemas.QAStatusMajorDefect, result.Status)
	require.Len(t, result.Defects, 1)
	assert.Equal(t, "contrast", result.Defects[0].Type)
	assert.Equal(t, schemas.SeverityMajor, result.Defects[0].Severity)
	assert.True(t, result.ShouldContinue)
	assert.Equal(t, 1, result.Iteration)
}

func TestRunQAUnknownStatusBecomesError(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"status":"meh","defects":[],"goal_accomplished":false}`, nil).Once()

	j := New(zap.NewNop(), llm)
	result, err := j.RunQA(context.Background(), qaRequest())
	require.NoError(t, err)
	assert.Equal(t, schemas.QAStatusError, result.Status)
}

func TestRunQAPassWithDefectsIsDowngraded(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"status":"pass","defects":[{"type":"layout","severity":"sorta-bad","description":"slightly off"}],"goal_accomplished":true}`, nil).Once()

	j := New(zap.NewNop(), llm)
	result, err := j.RunQA(context.Background(), qaRequest())
	require.NoError(t, err)

	assert.Equal(t, schemas.QAStatusMajorDefect, result.Status)
	// Unknown severity defaults to major.
	assert.Equal(t, schemas.SeverityMajor, result.Defects[0].Severity)
	// Omitted should_continue defaults to continuing while defects remain.
	assert.True(t, result.ShouldContinue)
}

func TestRunQAPreviousDefectsAppearInPrompt(t *testing.T) {
	var captured schemas.GenerationRequest
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(schemas.GenerationRequest) }).
		Return(`{"status":"pass","defects":[],"goal_accomplished":true,"should_continue":false}`, nil).Once()

	req := qaRequest()
	req.Iteration = 2
	req.PreviousDefects = []schemas.Defect{
		{Type: "contrast", Severity: schemas.SeverityMajor, Description: "text unreadable"},
	}

	j := New(zap.NewNop(), llm)
	_, err := j.RunQA(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, captured.UserPrompt, "previous iteration")
	assert.Contains(t, captured.UserPrompt, "text unreadable")
}

func TestRunQALLMErrorPropagates(t *testing.T) {
	llm := &mockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("", assert.AnError).Once()

	j := New(zap.NewNop(), llm)
	_, err := j.RunQA(context.Background(), qaRequest())
	require.Error(t, err)
}
