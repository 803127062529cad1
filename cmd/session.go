// File: cmd/session.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/agent"
	"github.com/xkilldash9x/aibrowser-cli/internal/browser"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
	"github.com/xkilldash9x/aibrowser-cli/internal/llmclient"
	"github.com/xkilldash9x/aibrowser-cli/internal/prompt"
)

// taskRunner is the part of *agent.Agent the commands drive.
type taskRunner interface {
	Run(ctx context.Context, task string, continuation bool) agent.RunResult
	AwaitingInput() bool
	ClearConversation()
}

// closableEnvironment is a browser the session owns and must shut down.
type closableEnvironment interface {
	schemas.Environment
	Close() error
}

// session bundles a ready agent with the resources it holds.
type session struct {
	runner taskRunner
	close  func() error
}

func (s *session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Component factories, replaced in tests.
var (
	newLLMClient   = llmclient.NewClient
	newEnvironment = func(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (closableEnvironment, error) {
		ctrl, err := browser.NewController(ctx, logger, cfg)
		if err != nil {
			return nil, err
		}
		return ctrl, nil
	}
	openSession = newSession
)

// newSession wires the model client, the browser and the agent. Narrations
// and step results are printed to out as the run progresses.
func newSession(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.Logger) (*session, error) {
	basePrompt, err := loadBasePrompt(cfg.Prompt())
	if err != nil {
		return nil, err
	}

	llm, err := newLLMClient(cfg.LLM(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	env, err := newEnvironment(ctx, logger, cfg.Browser())
	if err != nil {
		_ = llm.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	composer := prompt.NewComposer(basePrompt, cfg.Agent().SearchEngine)
	a := agent.New(logger, llm, env, cfg.Agent(), agent.WithComposer(composer))
	a.SetNarrationCallback(func(text string) {
		fmt.Fprintf(out, "  %s\n", text)
	})
	a.SetStepCallback(func(_ context.Context, ev agent.StepEvent) error {
		if ev.Phase == agent.PhaseAfter {
			fmt.Fprintf(out, "[step %d] %s\n", ev.Step, ev.Tool)
		}
		return nil
	})

	return &session{
		runner: a,
		close: func() error {
			return errors.Join(env.Close(), llm.Close())
		},
	}, nil
}

// loadBasePrompt returns the configured system instructions. A prompt file
// takes precedence over inline text; an empty result selects the default.
func loadBasePrompt(cfg config.PromptConfig) (string, error) {
	if cfg.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read system prompt file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(cfg.SystemPrompt), nil
}

// printResult renders the outcome of one run.
func printResult(out io.Writer, res agent.RunResult) {
	switch {
	case res.AwaitingUserInput:
		fmt.Fprintf(out, "\n? %s\n", res.Message)
	case res.Success:
		fmt.Fprintf(out, "\n✔ %s\n", res.Message)
	default:
		fmt.Fprintf(out, "\n✘ %s\n", res.Message)
	}
	if res.FinalState != nil && res.FinalState.URL != "" {
		fmt.Fprintf(out, "  (%d steps, final page: %s)\n", res.Steps, res.FinalState.URL)
	} else {
		fmt.Fprintf(out, "  (%d steps)\n", res.Steps)
	}
}
