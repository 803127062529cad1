// internal/agent/interfaces.go
package agent

import (
	"context"
	"time"
)

// StepCallback observes each step before and after its action executes. A
// returned error or a panic is logged and never affects the run.
type StepCallback func(ctx context.Context, event StepEvent) error

// NarrationCallback receives each deduplicated narration line of a reply.
type NarrationCallback func(text string)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
