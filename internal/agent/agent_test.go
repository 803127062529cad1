package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
)

func TestRun_SearchThenDone(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	page := testPage()

	env.On("Refresh", mock.Anything, mock.Anything).Return(page, nil)
	env.On("Execute", mock.Anything, "search", map[string]any{"query": "cats", "engine": "google"}).
		Return(schemas.ActionResult{}, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(searchReply, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())

	var (
		mu     sync.Mutex
		events []StepEvent
	)
	a.SetStepCallback(func(_ context.Context, ev StepEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		return nil
	})
	var narrations []string
	a.SetNarrationCallback(func(text string) { narrations = append(narrations, text) })

	res := a.Run(context.Background(), "Find cats", false)

	assert.True(t, res.Success)
	assert.False(t, res.AwaitingUserInput)
	assert.Equal(t, "All set.", res.Message)
	assert.Equal(t, 2, res.Steps)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, page, res.FinalState)
	assert.Equal(t, []string{"Searched google for 'cats'."}, res.ContextLog)
	assert.Contains(t, res.StructuredMessage, "Result: All set.")

	env.AssertNumberOfCalls(t, "Execute", 1)
	// One initial read and one refresh after the action settles.
	env.AssertNumberOfCalls(t, "Refresh", 2)
	env.AssertCalled(t, "Refresh", mock.Anything, schemas.RefreshOptions{IncludeDOM: true, IncludeScreenshot: false})

	require.Len(t, events, 4)
	assert.Equal(t, PhaseBefore, events[0].Phase)
	assert.Equal(t, "search(query='cats', engine='google')", events[0].Tool)
	assert.Equal(t, "Searching for cats.", events[0].Message)
	assert.Contains(t, events[0].Reasoning, "I need to look this up.")
	assert.Contains(t, events[0].Reasoning, "Page: https://example.com")
	assert.Equal(t, PhaseAfter, events[1].Phase)
	assert.Equal(t, "search(query='cats', engine='google') -> Searched google for 'cats'.", events[1].Tool)
	assert.Equal(t, "Task completed", events[3].Tool)
	assert.Equal(t, "All set.", events[3].Message)

	assert.Contains(t, narrations, "Searching for cats.")
	assert.Contains(t, narrations, "All set.")

	// The second prompt carries the first action's outcome.
	second := llm.messagesOfCall(1)
	assert.Equal(t, schemas.RoleSystem, second[0].Role)
	assert.Contains(t, second[len(second)-1].Content, "- Searched google for 'cats'.")
}

func TestRun_DoneImmediately(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "Say hi", false)

	assert.True(t, res.Success)
	assert.Equal(t, "All set.", res.Message)
	env.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_NoneWithoutSectionsFallsBack(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("Action: {\"type\":\"none\"}", nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "Nothing to do", false)

	assert.True(t, res.Success)
	// BestMessage falls through to the action text itself.
	assert.Equal(t, `{"type":"none"}`, res.Message)
}

func TestRun_AwaitThenContinue(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(awaitReply, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())

	first := a.Run(context.Background(), "Book a table", false)
	assert.False(t, first.Success)
	assert.True(t, first.AwaitingUserInput)
	assert.Equal(t, "Should I proceed?", first.Message)
	assert.True(t, a.AwaitingInput())

	second := a.Run(context.Background(), "yes", true)
	assert.True(t, second.Success)
	assert.False(t, a.AwaitingInput())

	msgs := llm.messagesOfCall(1)
	// system, first observation, await reply, user reply, new observation
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[1].Content, "Task: Book a table")
	assert.Equal(t, awaitReply, msgs[2].Content)
	assert.Equal(t, schemas.UserMessage("User reply: yes"), msgs[3])
	assert.Contains(t, msgs[4].Content, `The user replied to your last question: "yes"`)
	assert.Contains(t, msgs[4].Content, "Book a table")

	// The continuation reused the cached snapshot and refreshed it once.
	env.AssertNumberOfCalls(t, "Refresh", 2)
}

func TestRun_NewTaskClearsHistory(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil)

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	a.Run(context.Background(), "first", false)
	a.Run(context.Background(), "second", false)

	msgs := llm.messagesOfCall(1)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "Task: second")
}

func TestRun_ContinuationWithoutTaskStartsFresh(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil)

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "open example.com", true)

	assert.True(t, res.Success)
	msgs := llm.messagesOfCall(0)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "Task: open example.com")
}

func TestRun_ClearConversation(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(awaitReply, nil)

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	a.Run(context.Background(), "Book a table", false)
	require.True(t, a.AwaitingInput())

	a.ClearConversation()
	assert.False(t, a.AwaitingInput())
	assert.Equal(t, 0, a.history.size())
	assert.Empty(t, a.contextLog.snapshot())
}

func TestRun_StepLimit(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("I am just chatting, no labels here.", nil)

	cfg := testAgentConfig()
	cfg.MaxSteps = 2
	a, _ := newTestAgent(t, llm, env, cfg)

	res := a.Run(context.Background(), "Loop forever", false)

	assert.False(t, res.Success)
	assert.False(t, res.AwaitingUserInput)
	assert.Equal(t, "Max step limit reached without finishing the task.", res.Message)
	assert.Equal(t, 2, res.Steps)
	llm.AssertNumberOfCalls(t, "Invoke", 2)
	assert.Equal(t, []string{
		"Model reply lacked a valid Action JSON object.",
		"Model reply lacked a valid Action JSON object.",
	}, res.ContextLog)
}

func TestRun_InvalidActionParametersRetry(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("Action: {\"type\":\"click\"}", nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	core, logs := observer.New(zap.DebugLevel)
	a := New(zap.New(core), llm, env, testAgentConfig(),
		WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		WithBackoffTimer(func() backoff.Timer { return &instantTimer{} }),
	)
	res := a.Run(context.Background(), "Click something", false)

	assert.True(t, res.Success)
	require.Len(t, res.ContextLog, 1)
	assert.Contains(t, res.ContextLog[0], "Invalid action payload")
	env.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)

	entries := logs.FilterMessage("Model action payload was invalid.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(ErrCodeInvalidParameters), entries[0].ContextMap()["code"])
}

func TestRun_ModelRetry(t *testing.T) {
	overloaded := errors.New("gemini API error: status 503 (UNAVAILABLE): The model is overloaded.")

	t.Run("recovers after transient overload", func(t *testing.T) {
		llm := new(MockLLMClient)
		env := new(MockEnvironment)
		env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
		llm.On("Invoke", mock.Anything, mock.Anything).Return("", overloaded).Twice()
		llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

		a, timer := newTestAgent(t, llm, env, testAgentConfig())
		res := a.Run(context.Background(), "Find cats", false)

		assert.True(t, res.Success)
		llm.AssertNumberOfCalls(t, "Invoke", 3)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, timer.waits())
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		llm := new(MockLLMClient)
		env := new(MockEnvironment)
		env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
		llm.On("Invoke", mock.Anything, mock.Anything).Return("", overloaded)

		a, timer := newTestAgent(t, llm, env, testAgentConfig())
		res := a.Run(context.Background(), "Find cats", false)

		assert.False(t, res.Success)
		assert.Equal(t, "The language model is currently overloaded. Please wait a moment and try again.", res.Message)
		assert.NotContains(t, res.Message, "503")
		llm.AssertNumberOfCalls(t, "Invoke", 3)
		assert.Len(t, timer.waits(), 2)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		llm := new(MockLLMClient)
		env := new(MockEnvironment)
		env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
		llm.On("Invoke", mock.Anything, mock.Anything).Return("", errors.New("status 400: API key not valid"))

		a, timer := newTestAgent(t, llm, env, testAgentConfig())
		res := a.Run(context.Background(), "Find cats", false)

		assert.False(t, res.Success)
		assert.Equal(t, "Failed to contact the language model. Please try again.", res.Message)
		assert.NotContains(t, res.Message, "API key")
		llm.AssertNumberOfCalls(t, "Invoke", 1)
		assert.Empty(t, timer.waits())
	})

	t.Run("reports model timeouts", func(t *testing.T) {
		llm := new(MockLLMClient)
		env := new(MockEnvironment)
		env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
		llm.On("Invoke", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded)

		a, _ := newTestAgent(t, llm, env, testAgentConfig())
		res := a.Run(context.Background(), "Find cats", false)

		assert.Equal(t, "The language model took too long to respond. Please try again.", res.Message)
		llm.AssertNumberOfCalls(t, "Invoke", 1)
	})
}

func TestRun_EmptyRepliesDoNotConsumeSteps(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("", nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return("   \n", nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	cfg := testAgentConfig()
	cfg.MaxSteps = 1
	a, _ := newTestAgent(t, llm, env, cfg)
	res := a.Run(context.Background(), "Find cats", false)

	assert.True(t, res.Success)
	llm.AssertNumberOfCalls(t, "Invoke", 3)
	assert.Equal(t, 2, countEntries(res.ContextLog, "Model returned an empty response."))
	// Empty replies are never stored in history.
	assert.Equal(t, 2, a.history.size())
}

func TestRun_EmptyRepliesAreBounded(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("", nil)

	cfg := testAgentConfig()
	cfg.MaxSteps = 2
	cfg.MaxEmptyRetries = 1
	a, _ := newTestAgent(t, llm, env, cfg)
	res := a.Run(context.Background(), "Find cats", false)

	assert.Equal(t, msgMaxSteps, res.Message)
	// Each step gets one free retry before the empty reply counts.
	llm.AssertNumberOfCalls(t, "Invoke", 4)
}

func TestRun_ElementChangeTriggersRetryInstruction(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	env.On("Execute", mock.Anything, "click", map[string]any{"index": 5}).
		Return(schemas.ActionResult{ExtractedContent: "Element with index 5 not available"}, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(clickReply, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "Log in", false)

	assert.True(t, res.Success)
	env.AssertCalled(t, "Refresh", mock.Anything, schemas.RefreshOptions{IncludeDOM: true, IncludeScreenshot: true})
	assert.Equal(t, []string{"Element with index 5 not available", elementChangedNotice}, res.ContextLog)

	next := llm.messagesOfCall(1)
	observation := next[len(next)-1].Content
	assert.Contains(t, observation, "RETRY using current state")
	assert.Contains(t, observation, "- Element with index 5 not available")
}

func TestRun_RetryInstructionIsConsumedOnce(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	env.On("Execute", mock.Anything, "click", mock.Anything).
		Return(schemas.ActionResult{Error: "Element with index 5 not available - page may have changed"}, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(clickReply, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return("no action here", nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	a.Run(context.Background(), "Log in", false)

	second := llm.messagesOfCall(1)
	third := llm.messagesOfCall(2)
	assert.Contains(t, second[len(second)-1].Content, "RETRY using current state")
	assert.NotContains(t, third[len(third)-1].Content, "RETRY using current state")
}

func TestRun_UnsupportedAction(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("Action: {\"type\":\"fly\",\"altitude\":300}", nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "Fly", false)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"Unsupported action type: fly"}, res.ContextLog)
	env.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_FailedActionSettlesAndContinues(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	env.On("Execute", mock.Anything, "navigate", mock.Anything).
		Return(schemas.ActionResult{}, errors.New("net::ERR_NAME_NOT_RESOLVED")).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).
		Return("Action: {\"type\":\"navigate\",\"url\":\"https://nope.invalid\"}", nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	var slept []time.Duration
	cfg := testAgentConfig()
	cfg.SettleDelay = 500 * time.Millisecond
	cfg.FailureSettleDelay = 200 * time.Millisecond
	a, _ := newTestAgent(t, llm, env, cfg, WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	res := a.Run(context.Background(), "Open site", false)

	assert.True(t, res.Success)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, slept)
	require.Len(t, res.ContextLog, 1)
	assert.Equal(t, "Action navigate failed: net::ERR_NAME_NOT_RESOLVED", res.ContextLog[0])
}

func TestRun_RefreshFailureKeepsLastState(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	page := testPage()
	env.On("Refresh", mock.Anything, mock.Anything).Return(page, nil).Once()
	env.On("Refresh", mock.Anything, mock.Anything).Return(nil, errors.New("target closed"))
	env.On("Execute", mock.Anything, "search", mock.Anything).Return(schemas.ActionResult{}, nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(searchReply, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "Find cats", false)

	assert.True(t, res.Success)
	assert.Same(t, page, res.FinalState)
}

func TestRun_SetupFailure(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(nil, errors.New("websocket: bad handshake"))

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(context.Background(), "Find cats", false)

	assert.False(t, res.Success)
	assert.Equal(t, "Browser connection error: could not read the current page state.", res.Message)
	llm.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestRun_ObserverFailuresAreIsolated(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	env.On("Execute", mock.Anything, "search", mock.Anything).Return(schemas.ActionResult{}, nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(searchReply, nil).Once()
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil).Once()

	a := New(zap.New(core), llm, env, testAgentConfig(),
		WithSleeper(func(context.Context, time.Duration) error { return nil }))
	calls := 0
	a.SetStepCallback(func(_ context.Context, ev StepEvent) error {
		calls++
		if ev.Phase == PhaseBefore {
			panic("observer exploded")
		}
		return errors.New("observer unhappy")
	})
	a.SetNarrationCallback(func(string) { panic("narration exploded") })

	res := a.Run(context.Background(), "Find cats", false)

	assert.True(t, res.Success)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 2, logs.FilterMessage("Step callback panicked.").Len())
	assert.Equal(t, 2, logs.FilterMessage("Step callback returned an error.").Len())
	assert.Equal(t, 2, logs.FilterMessage("Narration callback panicked.").Len())
}

func TestRun_ReplacingObserver(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return(doneReply, nil)

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	var first, second int
	a.SetStepCallback(func(context.Context, StepEvent) error { first++; return nil })
	a.SetStepCallback(func(context.Context, StepEvent) error { second++; return nil })
	a.Run(context.Background(), "hi", false)

	assert.Equal(t, 0, first)
	assert.Equal(t, 2, second)

	a.SetStepCallback(nil)
	assert.NotPanics(t, func() { a.Run(context.Background(), "hi again", false) })
}

func TestRun_CancellationLeavesHistoryConsistent(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm.On("Invoke", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	a, _ := newTestAgent(t, llm, env, testAgentConfig())
	res := a.Run(ctx, "Find cats", false)

	assert.False(t, res.Success)
	assert.Equal(t, "Task cancelled.", res.Message)
	assert.Equal(t, 0, a.history.size())
	llm.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestRun_StepTimeoutRecovers(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	clock := newFakeClock()
	cfg := testAgentConfig()
	cfg.MaxSteps = 1

	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { clock.Advance(2 * cfg.StepTimeout) }).
		Return(clickReply, nil)

	a, _ := newTestAgent(t, llm, env, cfg, WithClock(clock.Now))
	res := a.Run(context.Background(), "Log in", false)

	assert.Equal(t, msgMaxSteps, res.Message)
	env.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	env.AssertCalled(t, "Refresh", mock.Anything, schemas.RefreshOptions{IncludeDOM: true, IncludeScreenshot: true})
	require.Len(t, res.ContextLog, 1)
	assert.Equal(t, "Step 1 timed out after 1m0s; state refreshed.", res.ContextLog[0])
	// The reply stays in history even though its action was not run.
	assert.Equal(t, 2, a.history.size())
}

func TestRun_LateCompletionIsKept(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantSuccess  bool
		wantAwaiting bool
	}{
		{"done", doneReply, true, false},
		{"await input", awaitReply, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			llm := new(MockLLMClient)
			env := new(MockEnvironment)
			clock := newFakeClock()
			cfg := testAgentConfig()

			env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
			llm.On("Invoke", mock.Anything, mock.Anything).
				Run(func(mock.Arguments) { clock.Advance(2 * cfg.StepTimeout) }).
				Return(tc.reply, nil).Once()

			a, _ := newTestAgent(t, llm, env, cfg, WithClock(clock.Now))
			res := a.Run(context.Background(), "Finish up", false)

			assert.Equal(t, tc.wantSuccess, res.Success)
			assert.Equal(t, tc.wantAwaiting, res.AwaitingUserInput)
			assert.Equal(t, 1, res.Steps)
			assert.Empty(t, res.ContextLog)
			llm.AssertNumberOfCalls(t, "Invoke", 1)
		})
	}
}

func TestRun_StepTimeoutAbortsRetries(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	clock := newFakeClock()
	cfg := testAgentConfig()
	cfg.MaxSteps = 1

	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { clock.Advance(2 * cfg.StepTimeout) }).
		Return("", errors.New("503 UNAVAILABLE"))

	a, _ := newTestAgent(t, llm, env, cfg, WithClock(clock.Now))
	res := a.Run(context.Background(), "Find cats", false)

	assert.Equal(t, msgMaxSteps, res.Message)
	llm.AssertNumberOfCalls(t, "Invoke", 1)
	assert.Contains(t, strings.Join(res.ContextLog, "\n"), "timed out")
}

func TestRun_HistoryIsBounded(t *testing.T) {
	llm := new(MockLLMClient)
	env := new(MockEnvironment)
	env.On("Refresh", mock.Anything, mock.Anything).Return(testPage(), nil)
	llm.On("Invoke", mock.Anything, mock.Anything).Return("nothing useful", nil)

	cfg := testAgentConfig()
	cfg.MaxSteps = 6
	cfg.MaxHistoryMessages = 4
	a, _ := newTestAgent(t, llm, env, cfg)
	a.Run(context.Background(), "Find cats", false)

	for i := 0; i < 6; i++ {
		// system + at most 4 history messages + current observation
		assert.LessOrEqual(t, len(llm.messagesOfCall(i)), 6)
	}
	last := llm.messagesOfCall(5)
	assert.Contains(t, last[1].Content, "Task: Find cats")
}

func countEntries(entries []string, want string) int {
	n := 0
	for _, e := range entries {
		if e == want {
			n++
		}
	}
	return n
}
