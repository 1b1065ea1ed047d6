package validator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

// mockHarness implements schemas.PageHarness for validator tests. Only
// SelectorExists matters here; the rest satisfy the interface.
type mockHarness struct {
	mock.Mock
}

func (m *mockHarness) ApplyCode(ctx context.Context, key string, code schemas.GeneratedCode) (*schemas.ApplyResult, error) {
	args := m.Called(ctx, key, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ApplyResult), args.Error(1)
}

func (m *mockHarness) ResetByKeyPrefix(ctx context.Context, prefix string) error {
	args := m.Called(ctx, prefix)
	return args.Error(0)
}

func (m *mockHarness) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockHarness) CollectConsoleErrors(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHarness) SelectorExists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *mockHarness) CollectPageData(ctx context.Context) (*schemas.PageData, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.PageData), args.Error(1)
}
