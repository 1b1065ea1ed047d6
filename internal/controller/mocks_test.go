package controller

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

type mockHarness struct {
	mock.Mock
}

func (m *mockHarness) ApplyCode(ctx context.Context, key string, code schemas.GeneratedCode) (*schemas.ApplyResult, error) {
	args := m.Called(ctx, key, code)
	if res := args.Get(0); res != nil {
		return res.(*schemas.ApplyResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockHarness) ResetByKeyPrefix(ctx context.Context, prefix string) error {
	args := m.Called(ctx, prefix)
	return args.Error(0)
}

func (m *mockHarness) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockHarness) CollectConsoleErrors(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockHarness) SelectorExists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *mockHarness) CollectPageData(ctx context.Context) (*schemas.PageData, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.(*schemas.PageData), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, code schemas.GeneratedCode) (schemas.ValidationReport, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(schemas.ValidationReport), args.Error(1)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req schemas.CodeRequest) (*schemas.CodeResponse, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*schemas.CodeResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGenerator) Adjust(ctx context.Context, req schemas.AdjustRequest) (*schemas.CodeResponse, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*schemas.CodeResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockJudge struct {
	mock.Mock
}

func (m *mockJudge) RunQA(ctx context.Context, req schemas.QARequest) (*schemas.QAResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*schemas.QAResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveRun(ctx context.Context, record *schemas.RunRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockStore) SaveQAResult(ctx context.Context, runID string, result schemas.QAResult) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *mockStore) GetRunsByTarget(ctx context.Context, targetURL string) ([]schemas.RunRecord, error) {
	args := m.Called(ctx, targetURL)
	if res := args.Get(0); res != nil {
		return res.([]schemas.RunRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Close() {
	m.Called()
}
