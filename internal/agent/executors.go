// internal/agent/executors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"go.uber.org/zap"
)

// failureIndicators mark a result text as a failed action.
var failureIndicators = []string{
	"not available",
	"failed",
	"not found",
	"could not",
	"unable to",
	"may have changed",
}

// elementChangeIndicators mark a failure as caused by the page changing under
// the model, i.e. the element references it used are stale.
var elementChangeIndicators = []string{
	"not available",
	"not found",
	"stale",
	"may have changed",
	"selector",
	"index",
	"no longer",
	"detached",
}

// Classification is the verdict for one action result.
type Classification struct {
	Failed         bool
	ElementChanged bool
	Code           ErrorCode
}

// ClassifyResult decides from the result text, and an explicit failure flag
// when the controller set one, whether the action failed and whether the
// failure means the page elements changed.
func ClassifyResult(text string, explicitFailure bool) Classification {
	lower := strings.ToLower(text)

	c := Classification{Failed: explicitFailure || containsAny(lower, failureIndicators)}
	if !c.Failed {
		return c
	}
	c.ElementChanged = containsAny(lower, elementChangeIndicators)

	switch {
	case c.ElementChanged:
		c.Code = ErrCodeElementNotFound
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded"):
		c.Code = ErrCodeTimeoutError
	case strings.Contains(lower, "net::err"):
		c.Code = ErrCodeNavigationError
	default:
		c.Code = ErrCodeExecutionFailure
	}
	return c
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// -- Executor Registry --

// ActionHandler executes one kind of action and reports its outcome.
type ActionHandler func(ctx context.Context, action Action) ActionOutcome

// ExecutorRegistry dispatches decoded actions to their handlers. Every
// environment call runs under the configured action timeout.
type ExecutorRegistry struct {
	logger   *zap.Logger
	env      schemas.Environment
	timeout  time.Duration
	handlers map[ActionType]ActionHandler
}

// NewExecutorRegistry creates a registry with handlers for every
// environment-backed action type.
func NewExecutorRegistry(logger *zap.Logger, env schemas.Environment, timeout time.Duration) *ExecutorRegistry {
	r := &ExecutorRegistry{
		logger:   logger.Named("executor"),
		env:      env,
		timeout:  timeout,
		handlers: make(map[ActionType]ActionHandler),
	}

	r.register(ActionSearch, r.forward(func(a Action) string {
		s := a.(SearchAction)
		return fmt.Sprintf("Searched %s for '%s'.", s.Engine, s.Query)
	}))
	r.register(ActionNavigate, r.forward(func(a Action) string {
		return fmt.Sprintf("Navigated to %s.", a.(NavigateAction).URL)
	}))
	r.register(ActionClick, r.forward(func(Action) string { return "Clicked element." }))
	r.register(ActionInput, r.forward(func(Action) string { return "Entered text." }))
	r.register(ActionScroll, r.forward(func(a Action) string {
		return fmt.Sprintf("Scrolled %s.", a.(ScrollAction).Direction)
	}))
	r.register(ActionSendKeys, r.forward(func(a Action) string {
		return fmt.Sprintf("Sent keys: %s.", a.(SendKeysAction).Keys)
	}))
	r.register(ActionScreenshot, r.forward(func(Action) string { return "Captured screenshot." }))

	return r
}

func (r *ExecutorRegistry) register(t ActionType, h ActionHandler) {
	r.handlers[t] = h
}

// Execute runs the handler for action. It never returns an error: unknown
// types, environment errors and handler panics all become failed outcomes.
func (r *ExecutorRegistry) Execute(ctx context.Context, action Action) (outcome ActionOutcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Action handler panicked", zap.String("action", string(action.Type())), zap.Any("panic", p))
			outcome = ActionOutcome{
				Summary:   fmt.Sprintf("Action %s failed: internal error", action.Type()),
				Failed:    true,
				ErrorCode: ErrCodeExecutorPanic,
			}
		}
	}()

	handler, ok := r.handlers[action.Type()]
	if !ok {
		return ActionOutcome{
			Summary:   fmt.Sprintf("Unsupported action type: %s", action.Type()),
			Failed:    true,
			ErrorCode: ErrCodeUnknownAction,
		}
	}
	return handler(ctx, action)
}

// forward builds a handler that passes the action's parameters to the
// environment. fallback supplies the summary when the environment returns
// no content.
func (r *ExecutorRegistry) forward(fallback func(Action) string) ActionHandler {
	return func(ctx context.Context, action Action) ActionOutcome {
		actionCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		name := string(action.Type())
		result, err := r.env.Execute(actionCtx, name, action.Params())
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("timed out after %s", r.timeout)
			}
			summary := fmt.Sprintf("Action %s failed: %v", name, err)
			cls := ClassifyResult(summary, true)
			r.logger.Warn("Action execution failed", zap.String("action", name), zap.String("error_code", string(cls.Code)), zap.Error(err))
			return ActionOutcome{Summary: summary, Failed: true, ElementChanged: cls.ElementChanged, ErrorCode: cls.Code, Raw: result}
		}

		var summary string
		switch {
		case result.Error != "":
			summary = fmt.Sprintf("Action %s failed: %s", name, result.Error)
		case strings.TrimSpace(result.ExtractedContent) != "":
			summary = strings.TrimSpace(result.ExtractedContent)
		default:
			summary = fallback(action)
		}

		cls := ClassifyResult(summary, result.ExplicitlyFailed())
		if cls.Failed {
			r.logger.Debug("Action reported failure", zap.String("action", name), zap.String("error_code", string(cls.Code)), zap.String("summary", summary))
		}
		return ActionOutcome{Summary: summary, Failed: cls.Failed, ElementChanged: cls.ElementChanged, ErrorCode: cls.Code, Raw: result}
	}
}
