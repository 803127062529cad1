// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
	"github.com/xkilldash9x/aibrowser-cli/internal/prompt"
	"github.com/xkilldash9x/aibrowser-cli/internal/structured"
)

// errModelTimeout marks a single model call that ran past its own deadline.
var errModelTimeout = errors.New("model call timed out")

// Agent drives the observe, ask, act loop against one environment. It keeps
// the conversation and context log between runs so a suspended run can be
// continued with the user's reply.
type Agent struct {
	logger   *zap.Logger
	llm      schemas.LLMClient
	env      schemas.Environment
	cfg      config.AgentConfig
	composer *prompt.Composer
	executor *ExecutorRegistry
	sleep    Sleeper
	now      func() time.Time
	newTimer func() backoff.Timer

	// runMu serializes runs and guards everything below it.
	runMu         sync.Mutex
	history       *conversation
	contextLog    contextLog
	lastState     *schemas.Snapshot
	task          string
	awaitingInput bool

	cbMu        sync.RWMutex
	onStep      StepCallback
	onNarration NarrationCallback
}

// Option customizes an Agent.
type Option func(*Agent)

// WithComposer replaces the default prompt composer.
func WithComposer(c *prompt.Composer) Option {
	return func(a *Agent) { a.composer = c }
}

// WithSleeper replaces the settle-delay sleep.
func WithSleeper(s Sleeper) Option {
	return func(a *Agent) { a.sleep = s }
}

// WithClock replaces the clock used for step deadlines.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithBackoffTimer replaces the timer used between model retries.
func WithBackoffTimer(newTimer func() backoff.Timer) Option {
	return func(a *Agent) { a.newTimer = newTimer }
}

// New creates an Agent.
func New(logger *zap.Logger, llm schemas.LLMClient, env schemas.Environment, cfg config.AgentConfig, opts ...Option) *Agent {
	a := &Agent{
		logger:   logger.Named("agent"),
		llm:      llm,
		env:      env,
		cfg:      cfg,
		composer: prompt.NewComposer("", cfg.SearchEngine),
		executor: NewExecutorRegistry(logger, env, cfg.ActionTimeout),
		sleep:    sleepContext,
		now:      time.Now,
		history:  newConversation(cfg.MaxHistoryMessages),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetStepCallback installs the step observer, replacing any previous one.
// Passing nil removes it.
func (a *Agent) SetStepCallback(cb StepCallback) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onStep = cb
}

// SetNarrationCallback installs the narration sink, replacing any previous one.
func (a *Agent) SetNarrationCallback(cb NarrationCallback) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onNarration = cb
}

// ClearConversation forgets the conversation, the context log and the
// current task. The cached environment snapshot is kept.
func (a *Agent) ClearConversation() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.history.reset()
	a.contextLog.reset()
	a.task = ""
	a.awaitingInput = false
}

// AwaitingInput reports whether the last run ended waiting for a user reply.
func (a *Agent) AwaitingInput() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.awaitingInput
}

// Run executes a task until it completes, asks for input, fails, or runs out
// of steps. With continuation set, task is the user's reply to the question
// the previous run ended on and the history is kept.
func (a *Agent) Run(ctx context.Context, task string, continuation bool) RunResult {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	runID := uuid.NewString()
	logger := a.logger.With(zap.String("run_id", runID))

	continuation = a.begin(logger, task, continuation)
	logger.Info("Starting agent run.", zap.Bool("continuation", continuation), zap.Int("max_steps", a.cfg.MaxSteps))

	result := a.loop(ctx, logger, task, continuation)
	result.RunID = runID
	result.ContextLog = a.contextLog.snapshot()
	a.awaitingInput = result.AwaitingUserInput

	logger.Info("Agent run finished.",
		zap.Bool("success", result.Success),
		zap.Bool("awaiting_user_input", result.AwaitingUserInput),
		zap.Int("steps", result.Steps),
	)
	return result
}

// begin prepares history for the run and returns the effective continuation flag.
func (a *Agent) begin(logger *zap.Logger, task string, continuation bool) bool {
	if continuation && a.task == "" {
		logger.Warn("Continuation requested with no task in progress; starting a new task.")
		continuation = false
	}

	if !continuation {
		a.history.reset()
		a.contextLog.reset()
		a.task = task
		return false
	}

	// A trailing user turn is a reply from an interrupted continuation that
	// never got an answer; the new reply supersedes it.
	if last, ok := a.history.last(); ok && last.Role == schemas.RoleUser {
		a.history.dropLast()
	}
	a.history.appendUser(schemas.UserMessage("User reply: " + task))
	return true
}

func (a *Agent) loop(ctx context.Context, logger *zap.Logger, reply string, continuation bool) RunResult {
	system, err := a.composer.BuildSystem()
	if err != nil {
		logger.Error("Failed to build system prompt.", zap.Error(err))
		return RunResult{Message: msgPrepareFailed, FinalState: a.lastState}
	}

	state, forceRefresh, err := a.initialState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return RunResult{Message: msgCancelled}
		}
		logger.Error("Failed to read initial environment state.", zap.Error(err))
		return RunResult{Message: msgSetupFailed}
	}

	var (
		elementRetry bool
		emptyRetries int
		steps        int
		firstTurn    = true
	)

	for step := 1; step <= a.cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			return RunResult{Message: msgCancelled, FinalState: state, Steps: steps}
		}
		steps = step
		stepLogger := logger.With(zap.Int("step", step))
		t := newTurn(step, a.now(), a.cfg.StepTimeout)

		if forceRefresh {
			forceRefresh = false
			state = a.refresh(ctx, stepLogger, state, false)
		}

		// Checkpoint: before the model call.
		if t.expired(a.now()) {
			state = a.recoverStuckStep(ctx, stepLogger, t, state)
			continue
		}

		task := a.task
		if continuation && firstTurn {
			task = continuationTask(a.task, reply)
		}
		observation, err := a.composer.BuildObservation(prompt.ObservationInput{
			Task:               task,
			EnvironmentSummary: summarizeEnvironment(state),
			ExtraContext:       buildExtraContext(a.contextLog.tail(promptContextEntries), elementRetry),
		})
		if err != nil {
			stepLogger.Error("Failed to build observation prompt.", zap.Error(err))
			return RunResult{Message: msgPrepareFailed, FinalState: state, Steps: step}
		}
		elementRetry = false

		userMsg := schemas.UserMessage(observation)
		text, err := a.invokeModel(ctx, stepLogger, t, a.history.withSystem(system, userMsg))
		if err != nil {
			switch {
			case errors.Is(err, errStepTimedOut):
				state = a.recoverStuckStep(ctx, stepLogger, t, state)
				continue
			case ctx.Err() != nil:
				return RunResult{Message: msgCancelled, FinalState: state, Steps: step}
			default:
				stepLogger.Error("Model invocation failed.", zap.Error(err))
				return RunResult{Message: userFacingModelError(err), FinalState: state, Steps: step}
			}
		}

		if strings.TrimSpace(text) == "" {
			stepLogger.Warn("Model returned an empty response.")
			a.contextLog.add("Model returned an empty response.")
			if emptyRetries < a.cfg.MaxEmptyRetries {
				emptyRetries++
				step--
			} else {
				emptyRetries = 0
			}
			continue
		}
		emptyRetries = 0

		a.history.appendExchange(userMsg, schemas.AssistantMessage(text))
		firstTurn = false

		parsed, err := parseReply(text)
		if err != nil {
			stepLogger.Warn("Could not parse model reply.", zap.Error(err))
			a.contextLog.add(fmt.Sprintf("Parser error: %v", err))
			continue
		}
		a.publishNarrations(stepLogger, text)

		payload, ok := parsed.ResolveAction()
		if !ok {
			stepLogger.Debug("Model reply had no usable action.", zap.Int("action_sections", len(parsed.Actions)))
			a.contextLog.add("Model reply lacked a valid Action JSON object.")
			continue
		}
		action, err := DecodeAction(payload, ActionDefaults{SearchEngine: a.composer.SearchEngine()})
		if err != nil {
			stepLogger.Debug("Model action payload was invalid.", zap.String("code", string(ErrCodeInvalidParameters)), zap.Error(err))
			a.contextLog.add(fmt.Sprintf("Invalid action payload: %v", err))
			continue
		}

		agentMessage := firstNonEmpty(structured.Last(parsed.Narration), structured.Last(parsed.Results), defaultAgentMessage)
		reasoning := summarizeReasoning(parsed, state)
		tool := action.Describe()
		a.notifyStep(ctx, stepLogger, StepEvent{Step: step, Reasoning: reasoning, Message: agentMessage, Tool: tool, Phase: PhaseBefore})

		switch {
		case action.Type().IsCompletion():
			completion := firstNonEmpty(structured.Last(parsed.Results), agentMessage, msgTaskCompleted)
			a.notifyStep(ctx, stepLogger, StepEvent{Step: step, Reasoning: reasoning, Message: completion, Tool: "Task completed", Phase: PhaseAfter})
			return RunResult{
				Success:           true,
				Message:           firstNonEmpty(parsed.BestMessage(), msgTaskCompleted),
				StructuredMessage: a.trace(stepLogger, parsed),
				FinalState:        state,
				Steps:             step,
			}

		case action.Type().IsAwaitInput():
			question := firstNonEmpty(structured.Last(parsed.Narration), structured.Last(parsed.Results), parsed.BestMessage(), msgNeedInput)
			a.notifyStep(ctx, stepLogger, StepEvent{Step: step, Reasoning: reasoning, Message: question, Tool: "Awaiting user input", Phase: PhaseAfter})
			return RunResult{
				AwaitingUserInput: true,
				Message:           question,
				StructuredMessage: a.trace(stepLogger, parsed),
				FinalState:        state,
				Steps:             step,
			}
		}

		// Checkpoint: before execution. The action runs against the state the
		// model saw; refreshing first would renumber the elements it referenced.
		if t.expired(a.now()) {
			state = a.recoverStuckStep(ctx, stepLogger, t, state)
			continue
		}

		outcome := a.executor.Execute(ctx, action)
		if ctx.Err() != nil {
			return RunResult{Message: msgCancelled, FinalState: state, Steps: step}
		}
		a.contextLog.add(outcome.Summary)
		stepLogger.Info("Action executed.",
			zap.String("action", string(action.Type())),
			zap.Bool("failed", outcome.Failed),
			zap.Bool("element_changed", outcome.ElementChanged),
		)

		a.notifyStep(ctx, stepLogger, StepEvent{
			Step:      step,
			Reasoning: reasoning,
			Message:   firstNonEmpty(structured.Last(parsed.Results), agentMessage),
			Tool:      fmt.Sprintf("%s -> %s", tool, truncate(outcome.Summary, 100)),
			Phase:     PhaseAfter,
		})

		if outcome.ElementChanged {
			a.contextLog.add(elementChangedNotice)
			state = a.refresh(ctx, stepLogger, state, true)
			elementRetry = true
			continue
		}

		delay := a.cfg.SettleDelay
		if outcome.Failed {
			delay = a.cfg.FailureSettleDelay
		}
		if err := a.sleep(ctx, delay); err != nil {
			return RunResult{Message: msgCancelled, FinalState: state, Steps: step}
		}
		state = a.refresh(ctx, stepLogger, state, false)
	}

	logger.Warn("Step budget exhausted.", zap.Int("max_steps", a.cfg.MaxSteps))
	return RunResult{Message: msgMaxSteps, FinalState: state, Steps: steps}
}

// initialState reuses the cached snapshot when there is one, flagging that
// the first step must refresh it; otherwise it reads a fresh one.
func (a *Agent) initialState(ctx context.Context) (*schemas.Snapshot, bool, error) {
	if a.lastState != nil {
		return a.lastState, true, nil
	}
	refreshCtx, cancel := context.WithTimeout(ctx, a.cfg.RefreshTimeout)
	defer cancel()
	snap, err := a.env.Refresh(refreshCtx, schemas.RefreshOptions{IncludeDOM: true})
	if err != nil {
		return nil, false, err
	}
	if snap == nil {
		return nil, false, errors.New("environment returned no state")
	}
	a.lastState = snap
	return snap, false, nil
}

// refresh re-reads the environment, falling back to the last known snapshot.
func (a *Agent) refresh(ctx context.Context, logger *zap.Logger, fallback *schemas.Snapshot, screenshot bool) *schemas.Snapshot {
	refreshCtx, cancel := context.WithTimeout(ctx, a.cfg.RefreshTimeout)
	defer cancel()
	snap, err := a.env.Refresh(refreshCtx, schemas.RefreshOptions{IncludeDOM: true, IncludeScreenshot: screenshot})
	if err != nil || snap == nil {
		logger.Warn("Failed to refresh environment state; keeping the last known state.", zap.Error(err))
		return fallback
	}
	a.lastState = snap
	return snap
}

func (a *Agent) recoverStuckStep(ctx context.Context, logger *zap.Logger, t turn, state *schemas.Snapshot) *schemas.Snapshot {
	logger.Warn("Step exceeded its time budget; refreshing state and moving on.", zap.Duration("step_timeout", a.cfg.StepTimeout))
	state = a.refresh(ctx, logger, state, true)
	a.contextLog.add(fmt.Sprintf("Step %d timed out after %s; state refreshed.", t.step, a.cfg.StepTimeout))
	return state
}

// invokeModel calls the model, retrying only overload errors with
// exponential backoff. Each attempt has its own timeout.
func (a *Agent) invokeModel(ctx context.Context, logger *zap.Logger, t turn, messages []schemas.Message) (string, error) {
	var (
		reply   string
		attempt int
	)
	operation := func() error {
		attempt++
		if attempt > 1 && t.expired(a.now()) {
			return backoff.Permanent(errStepTimedOut)
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.ModelTimeout)
		defer cancel()
		text, err := a.llm.Invoke(callCtx, messages)
		switch {
		case err == nil:
			reply = text
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return backoff.Permanent(fmt.Errorf("%w: %v", errModelTimeout, err))
		case isOverloaded(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.ModelRetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = a.cfg.ModelRetryBaseDelay << uint(a.cfg.ModelRetryAttempts)
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.ModelRetryAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("Model is overloaded; retrying.", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	var timer backoff.Timer
	if a.newTimer != nil {
		timer = a.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, timer); err != nil {
		return "", err
	}
	return reply, nil
}

func isOverloaded(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "503") ||
		strings.Contains(msg, "UNAVAILABLE") ||
		strings.Contains(strings.ToLower(msg), "overloaded")
}

func userFacingModelError(err error) string {
	switch {
	case errors.Is(err, errModelTimeout):
		return msgModelTimeout
	case isOverloaded(err):
		return msgModelOverloaded
	default:
		return msgModelFailed
	}
}

func parseReply(text string) (resp *structured.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return structured.Parse(text), nil
}

func (a *Agent) trace(logger *zap.Logger, r *structured.Response) string {
	out, err := a.composer.BuildAnswer(structured.Last(r.Narration), structured.Last(r.Actions), structured.Last(r.Results))
	if err != nil {
		logger.Warn("Failed to render structured trace.", zap.Error(err))
		return ""
	}
	return out
}

func (a *Agent) notifyStep(ctx context.Context, logger *zap.Logger, ev StepEvent) {
	a.cbMu.RLock()
	cb := a.onStep
	a.cbMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Step callback panicked.", zap.Any("panic", r), zap.String("phase", string(ev.Phase)))
		}
	}()
	if err := cb(ctx, ev); err != nil {
		logger.Warn("Step callback returned an error.", zap.Error(err), zap.String("phase", string(ev.Phase)))
	}
}

func (a *Agent) publishNarrations(logger *zap.Logger, text string) {
	a.cbMu.RLock()
	cb := a.onNarration
	a.cbMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Narration callback panicked.", zap.Any("panic", r))
		}
	}()
	for _, line := range structured.ExtractNarrations(text) {
		cb(line)
	}
}

// turn tracks one step's wall-clock budget.
type turn struct {
	step     int
	deadline time.Time
}

func newTurn(step int, start time.Time, budget time.Duration) turn {
	return turn{step: step, deadline: start.Add(budget)}
}

func (t turn) expired(now time.Time) bool {
	return now.After(t.deadline)
}
