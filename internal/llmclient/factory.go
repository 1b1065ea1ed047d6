// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/config"
)

// NewClient builds the tiered LLM client for the configured provider.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		fast, err := NewGeminiClient(cfg.Fast, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build fast tier client: %w", err)
		}
		powerful, err := NewGeminiClient(cfg.Powerful, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build powerful tier client: %w", err)
		}
		return NewRouter(logger, fast, powerful, cfg.RequestsPerMinute)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
