package agent

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Invoke(ctx context.Context, messages []schemas.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// messagesOfCall returns the message list passed to the i-th Invoke call.
func (m *MockLLMClient) messagesOfCall(i int) []schemas.Message {
	var invokes []mock.Call
	for _, c := range m.Calls {
		if c.Method == "Invoke" {
			invokes = append(invokes, c)
		}
	}
	return invokes[i].Arguments.Get(1).([]schemas.Message)
}

// -- Environment Mock --

// MockEnvironment mocks the schemas.Environment interface.
type MockEnvironment struct {
	mock.Mock
}

func (m *MockEnvironment) Refresh(ctx context.Context, opts schemas.RefreshOptions) (*schemas.Snapshot, error) {
	args := m.Called(ctx, opts)
	snap, _ := args.Get(0).(*schemas.Snapshot)
	return snap, args.Error(1)
}

func (m *MockEnvironment) Execute(ctx context.Context, action string, params map[string]any) (schemas.ActionResult, error) {
	args := m.Called(ctx, action, params)
	return args.Get(0).(schemas.ActionResult), args.Error(1)
}

// -- Backoff Timer Fake --

// instantTimer fires immediately and records the waits it was asked for.
type instantTimer struct {
	mu    sync.Mutex
	c     chan time.Time
	slept []time.Duration
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slept = append(t.slept, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *instantTimer) waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.slept...)
}

// -- Clock Fake --

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
