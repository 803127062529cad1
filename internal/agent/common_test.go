package agent

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
	"go.uber.org/zap/zaptest"
)

const (
	searchReply = "Thinking: I need to look this up.\n\n" +
		"Narration: Searching for cats.\n\n" +
		"Action: {\"type\":\"search\",\"query\":\"cats\",\"engine\":\"google\"}\n\n" +
		"Result: Search issued."
	doneReply = "Narration: Wrapping up.\n\n" +
		"Action: {\"type\":\"done\"}\n\n" +
		"Result: All set."
	awaitReply = "Narration: Should I proceed?\n\n" +
		"Action: {\"type\":\"await_user_input\"}\n\n" +
		"Result: Waiting."
	clickReply = "Narration: Clicking the login button.\n\n" +
		"Action: {\"type\":\"click\",\"index\":5}"
)

// testAgentConfig returns fast, deterministic run bounds.
func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:            5,
		SearchEngine:        "google",
		MaxHistoryMessages:  40,
		ModelRetryAttempts:  3,
		ModelRetryBaseDelay: 2 * time.Second,
		ModelTimeout:        5 * time.Second,
		RefreshTimeout:      5 * time.Second,
		ActionTimeout:       5 * time.Second,
		StepTimeout:         time.Minute,
		MaxEmptyRetries:     2,
	}
}

func testPage() *schemas.Snapshot {
	return &schemas.Snapshot{
		URL:   "https://example.com",
		Title: "Example",
		Tabs:  []schemas.Tab{{ID: "t1", Title: "Example", URL: "https://example.com", Active: true}},
		DOM:   "[1]<a>More information</a>",
	}
}

// newTestAgent builds an agent whose sleeps and backoff waits return at once.
func newTestAgent(t *testing.T, llm schemas.LLMClient, env schemas.Environment, cfg config.AgentConfig, opts ...Option) (*Agent, *instantTimer) {
	t.Helper()
	timer := &instantTimer{}
	base := []Option{
		WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		WithBackoffTimer(func() backoff.Timer { return timer }),
	}
	return New(zaptest.NewLogger(t), llm, env, cfg, append(base, opts...)...), timer
}
