// internal/agent/errors.go
package agent

import "errors"

// ErrorCode is a string type used for structured error reporting from action executors.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"

	// -- Browser/DOM Errors --
	// ErrCodeElementNotFound means the target referenced by the model no
	// longer matches the live page, so the state must be re-read.
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

// User-facing run messages.
const (
	msgModelTimeout    = "The language model took too long to respond. Please try again."
	msgModelOverloaded = "The language model is currently overloaded. Please wait a moment and try again."
	msgModelFailed     = "Failed to contact the language model. Please try again."
	msgSetupFailed     = "Browser connection error: could not read the current page state."
	msgPrepareFailed   = "Error preparing step: could not build the prompt."
	msgCancelled       = "Task cancelled."
	msgMaxSteps        = "Max step limit reached without finishing the task."
	msgTaskCompleted   = "Task completed."
	msgNeedInput       = "I need your input to continue."
)

// errStepTimedOut aborts a model retry loop when the step deadline has passed.
var errStepTimedOut = errors.New("step deadline exceeded")
