// internal/agent/models.go
package agent

import (
	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
)

// ActionType names an action the model can request.
type ActionType string

const (
	ActionSearch     ActionType = "search"
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionInput      ActionType = "input"
	ActionScroll     ActionType = "scroll"
	ActionSendKeys   ActionType = "send_keys"
	ActionScreenshot ActionType = "screenshot"

	// Terminal actions end the run without touching the environment.
	ActionDone              ActionType = "done"
	ActionNone              ActionType = "none"
	ActionAwaitUserInput    ActionType = "await_user_input"
	ActionAwaitingUserInput ActionType = "awaiting_user_input"
)

// IsCompletion reports whether the action finishes the task.
func (t ActionType) IsCompletion() bool {
	return t == ActionDone || t == ActionNone
}

// IsAwaitInput reports whether the action suspends the run for a user reply.
func (t ActionType) IsAwaitInput() bool {
	return t == ActionAwaitUserInput || t == ActionAwaitingUserInput
}

// StepPhase marks when an observer is notified relative to execution.
type StepPhase string

const (
	PhaseBefore StepPhase = "before"
	PhaseAfter  StepPhase = "after"
)

// StepEvent is delivered to the step observer before and after each action.
type StepEvent struct {
	Step      int
	Reasoning string
	Message   string
	Tool      string
	Phase     StepPhase
}

// RunResult is the outcome of one call to Agent.Run.
type RunResult struct {
	RunID             string
	Success           bool
	AwaitingUserInput bool
	// Message is the user-facing text. It never contains raw provider errors.
	Message string
	// StructuredMessage is the narration/action/result trace of the final turn.
	StructuredMessage string
	FinalState        *schemas.Snapshot
	ContextLog        []string
	Steps             int
}

// ActionOutcome is the classified result of executing one action.
type ActionOutcome struct {
	// Summary is the one-line text appended to the context log.
	Summary        string
	Failed         bool
	ElementChanged bool
	ErrorCode      ErrorCode
	Raw            schemas.ActionResult
}
