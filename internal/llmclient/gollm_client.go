// internal/llmclient/gollm_client.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
)

// generateFunc performs one completion for a prepared prompt.
type generateFunc func(ctx context.Context, prompt *gollm.Prompt) (string, error)

// GollmClient implements schemas.LLMClient on top of gollm, covering the
// providers that have no dedicated client here (OpenAI, Anthropic, Ollama, ...).
type GollmClient struct {
	provider string
	model    string
	generate generateFunc
	logger   *zap.Logger
}

// NewGollmClient builds a gollm-backed client for cfg.Provider. gollm's own
// retries are disabled; the agent loop owns the retry policy.
func NewGollmClient(cfg config.LLMConfig, logger *zap.Logger) (*GollmClient, error) {
	provider := strings.ToLower(cfg.Provider)
	if cfg.APIKey == "" && provider != config.ProviderOllama {
		return nil, fmt.Errorf("an API key is required for provider %s (set llm.api_key)", provider)
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(cfg.Model),
		gollm.SetTemperature(float64(cfg.Temperature)),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, gollm.SetMaxTokens(cfg.MaxTokens))
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmClient{
		provider: provider,
		model:    cfg.Model,
		generate: func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, prompt)
		},
		logger: logger.Named("llm_client.gollm"),
	}, nil
}

// Invoke flattens the conversation into a single gollm prompt. System
// messages become the system prompt and prior assistant turns are replayed
// inline with a marker.
func (c *GollmClient) Invoke(ctx context.Context, messages []schemas.Message) (string, error) {
	prompt := buildGollmPrompt(messages)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", c.provider, err)
	}
	c.logger.Debug("LLM generation complete (gollm)",
		zap.String("provider", c.provider),
		zap.String("model", c.model),
		zap.Int("reply_length", len(text)),
	)
	return text, nil
}

// Close is a no-op; gollm holds no resources that need releasing.
func (c *GollmClient) Close() error { return nil }

func buildGollmPrompt(messages []schemas.Message) *gollm.Prompt {
	system, input := flattenMessages(messages)
	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	return gollm.NewPrompt(input, promptOpts...)
}

// flattenMessages joins system messages into one instruction block and the
// remaining turns into a single prompt body.
func flattenMessages(messages []schemas.Message) (system, input string) {
	var sys, parts []string
	for _, msg := range messages {
		switch msg.Role {
		case schemas.RoleSystem:
			sys = append(sys, msg.Content)
		case schemas.RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		default:
			parts = append(parts, msg.Content)
		}
	}
	return strings.TrimSpace(strings.Join(sys, "\n")), strings.Join(parts, "\n\n")
}
