package schemas

import (
	"time"
)

// -- Environment Snapshot Schemas --

// Tab describes one open page.
type Tab struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// Snapshot is an opaque-to-the-loop capture of the environment. The agent
// renders it into the observation prompt and otherwise never inspects it.
type Snapshot struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Tabs       []Tab     `json:"tabs,omitempty"`
	DOM        string    `json:"dom,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"` // base64 encoded PNG
	CapturedAt time.Time `json:"captured_at"`
}

// RefreshOptions controls how much work a Refresh does.
type RefreshOptions struct {
	IncludeDOM        bool
	IncludeScreenshot bool
}

// ActionResult is what the environment reports back for one executed action.
type ActionResult struct {
	ExtractedContent string `json:"extracted_content,omitempty"`
	Error            string `json:"error,omitempty"`
	// Success is an explicit flag. A nil value means the controller did not say.
	Success *bool `json:"success,omitempty"`
}

// ExplicitlyFailed reports whether the controller flagged the action as failed.
func (r ActionResult) ExplicitlyFailed() bool {
	return r.Success != nil && !*r.Success
}

// Succeeded returns a pointer to true, for building results.
func Succeeded() *bool {
	b := true
	return &b
}

// Failed returns a pointer to false, for building results.
func Failed() *bool {
	b := false
	return &b
}
