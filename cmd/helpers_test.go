// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/internal/agent"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
	"github.com/xkilldash9x/aibrowser-cli/internal/observability"
)

// runCall records one invocation of fakeRunner.Run.
type runCall struct {
	Task         string
	Continuation bool
}

// fakeRunner replays scripted results and tracks the awaiting-input flag the
// way the agent does.
type fakeRunner struct {
	mu       sync.Mutex
	results  []agent.RunResult
	calls    []runCall
	awaiting bool
	cleared  int
}

func (f *fakeRunner) Run(_ context.Context, task string, continuation bool) agent.RunResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{Task: task, Continuation: continuation})

	res := agent.RunResult{Success: true, Message: "done"}
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	f.awaiting = res.AwaitingUserInput
	return res
}

func (f *fakeRunner) AwaitingInput() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awaiting
}

func (f *fakeRunner) ClearConversation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.awaiting = false
}

// stubSession swaps openSession for one returning runner. The config the
// command built is captured into *gotCfg when non-nil.
func stubSession(t *testing.T, runner taskRunner, gotCfg **config.Config) *int {
	t.Helper()
	closed := new(int)
	original := openSession
	openSession = func(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.Logger) (*session, error) {
		if gotCfg != nil {
			*gotCfg = cfg
		}
		return &session{runner: runner, close: func() error { *closed++; return nil }}, nil
	}
	t.Cleanup(func() { openSession = original })
	return closed
}

// executeCommand runs a fresh command tree with isolated config discovery.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)
	return runCommand(t, stdin, args...)
}

// runCommand runs a fresh command tree in the current directory.
func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// resetForTest runs the test from an empty directory so no config.yaml or
// .env is picked up, and keeps the global logger quiet.
func resetForTest(t *testing.T) {
	t.Helper()

	t.Chdir(t.TempDir())
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
}

// writeConfig writes a config.yaml into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
