package schemas

import (
	"context"
)

// -- Centralized Core Service Interfaces --

// Environment is the stateful controller the agent acts upon. Implementations
// own the live page; the agent only ever sees snapshots of it.
type Environment interface {
	// Refresh captures the current state. It may be slow and may fail; the
	// caller decides whether to fall back to an older snapshot.
	Refresh(ctx context.Context, opts RefreshOptions) (*Snapshot, error)
	// Execute performs a named action with the model supplied parameters. A
	// returned error means the call itself broke; a failed action is reported
	// through the ActionResult.
	Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error)
}

// LLMClient is the model endpoint. Invoke sends the full message list and
// returns the raw completion text.
type LLMClient interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
	Close() error
}
