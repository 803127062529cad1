// internal/llmclient/factory.go
package llmclient

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the configuration.
// Gemini uses the native REST client; every other supported provider goes through gollm.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	var (
		client schemas.LLMClient
		err    error
	)

	switch provider := strings.ToLower(cfg.Provider); provider {
	case config.ProviderGemini:
		client, err = NewGeminiClient(cfg, logger)
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama,
		config.ProviderGroq, config.ProviderMistral:
		client, err = NewGollmClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		client = NewRateLimitedClient(client, cfg.RequestsPerMinute, logger)
	}
	return client, nil
}
