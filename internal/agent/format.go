// internal/agent/format.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/structured"
)

const (
	retryInstruction = "RETRY using current state: the previous action failed because the page elements changed. " +
		"Pick element indices from the CURRENT browser state above and do not assume the earlier action succeeded."
	elementChangedNotice = "Page elements changed; state refreshed. Use the new element indices."
	defaultReasoning     = "Analyzing current browser state and planning next action..."
	defaultAgentMessage  = "Preparing to execute action..."
)

// summarizeEnvironment renders a snapshot for the observation prompt. A nil
// snapshot renders as "" so the prompt falls back to its placeholder.
func summarizeEnvironment(s *schemas.Snapshot) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s", s.URL)
	if s.Title != "" {
		fmt.Fprintf(&b, "\nTitle: %s", s.Title)
	}
	if len(s.Tabs) > 0 {
		tabs := make([]string, 0, len(s.Tabs))
		for i, tab := range s.Tabs {
			label := tab.Title
			if label == "" {
				label = tab.URL
			}
			if tab.Active {
				label += " (active)"
			}
			tabs = append(tabs, fmt.Sprintf("[%d] %s", i+1, label))
		}
		fmt.Fprintf(&b, "\nTabs: %s", strings.Join(tabs, ", "))
	}
	if dom := strings.TrimSpace(s.DOM); dom != "" {
		b.WriteString("\nInteractive elements:\n")
		b.WriteString(dom)
	}
	return b.String()
}

// summarizeReasoning joins the model's recent thinking, its last evaluation
// and the page it was looking at into one line for the step observer.
func summarizeReasoning(r *structured.Response, s *schemas.Snapshot) string {
	var parts []string

	thinking := r.Thinking
	if len(thinking) > 2 {
		thinking = thinking[len(thinking)-2:]
	}
	if t := strings.TrimSpace(strings.Join(thinking, " ")); t != "" {
		parts = append(parts, t)
	}
	if e := structured.Last(r.Evaluate); e != "" {
		parts = append(parts, "Evaluation: "+e)
	}
	if s != nil && s.URL != "" {
		page := "Page: " + s.URL
		if s.Title != "" && s.Title != s.URL {
			page += " | Title: " + s.Title
		}
		parts = append(parts, page)
	}

	if len(parts) == 0 {
		return defaultReasoning
	}
	return strings.Join(parts, " | ")
}

// buildExtraContext renders the newest context entries, led by the retry
// instruction when the previous action hit stale elements.
func buildExtraContext(entries []string, elementRetry bool) string {
	lines := make([]string, 0, len(entries)+1)
	if elementRetry {
		lines = append(lines, retryInstruction)
	}
	for _, e := range entries {
		lines = append(lines, "- "+e)
	}
	return strings.Join(lines, "\n")
}

// continuationTask frames a user reply as the answer to the agent's question.
func continuationTask(original, reply string) string {
	if original == "" {
		return reply
	}
	return fmt.Sprintf("The user replied to your last question: %q\nTreat this as their answer and continue the original task: %s", reply, original)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
