// Package structured turns the model's loosely formatted, labeled text reply
// into sections the agent loop can act on.
package structured

import (
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// Label names a section of a model reply.
type Label string

const (
	LabelNarration   Label = "narration"
	LabelAction      Label = "action"
	LabelResult      Label = "result"
	LabelThinking    Label = "thinking"
	LabelStep        Label = "step"
	LabelEvaluate    Label = "evaluate"
	LabelActionName  Label = "action_name"
	LabelActionInput Label = "action_input"
)

// sectionPattern matches a label at the start of a line, e.g. "Narration: ..."
// or "result - ...". "Thought" is an alias of "Thinking".
var sectionPattern = regexp.MustCompile(`(?i)^\s*(Narration|Action|Result|Thinking|Thought|Step|Evaluate|Action_Name|Action_Input)\s*[:\-]\s*(.*)$`)

// Response is the parsed form of one model reply. Each list holds the
// section payloads in the order they appeared.
type Response struct {
	Raw       string
	Narration []string
	Actions   []string
	Results   []string
	Thinking  []string
	Steps     []string
	Evaluate  []string

	// ActionName and ActionInput hold the last "Action_Name"/"Action_Input"
	// sections. They are informational and never used to resolve an action.
	ActionName  string
	ActionInput string
}

// Parse splits text into labeled sections. A section runs from its label
// line until the next label line or a blank line; continuation lines are
// joined with single spaces. Unlabeled text outside a section is ignored.
// Parse never fails: unparseable input yields an empty Response.
func Parse(text string) *Response {
	r := &Response{Raw: text}

	var (
		current Label
		buffer  []string
	)
	flush := func() {
		if current != "" && len(buffer) > 0 {
			if content := strings.TrimSpace(strings.Join(buffer, " ")); content != "" {
				r.add(current, content)
			}
		}
		current = ""
		buffer = buffer[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			flush()
			continue
		}
		if m := sectionPattern.FindStringSubmatch(stripped); m != nil {
			flush()
			current = normalizeLabel(m[1])
			if payload := strings.TrimSpace(m[2]); payload != "" {
				buffer = append(buffer, payload)
			}
			continue
		}
		if current != "" {
			buffer = append(buffer, stripped)
		}
	}
	flush()

	return r
}

func normalizeLabel(raw string) Label {
	l := Label(strings.ToLower(raw))
	if l == "thought" {
		return LabelThinking
	}
	return l
}

func (r *Response) add(label Label, content string) {
	switch label {
	case LabelNarration:
		r.Narration = append(r.Narration, content)
	case LabelAction:
		r.Actions = append(r.Actions, content)
	case LabelResult:
		r.Results = append(r.Results, content)
	case LabelThinking:
		r.Thinking = append(r.Thinking, content)
	case LabelStep:
		r.Steps = append(r.Steps, content)
	case LabelEvaluate:
		r.Evaluate = append(r.Evaluate, content)
	case LabelActionName:
		r.ActionName = content
	case LabelActionInput:
		r.ActionInput = content
	}
}

// HasSections reports whether any labeled list section was found.
func (r *Response) HasSections() bool {
	return len(r.Narration)+len(r.Actions)+len(r.Results)+len(r.Thinking)+len(r.Steps)+len(r.Evaluate) > 0
}

// ResolveAction returns the action payload the model committed to: walking
// the Action sections from last to first, the first one that decodes to a
// JSON object with a string "type" wins.
func (r *Response) ResolveAction() (map[string]any, bool) {
	for i := len(r.Actions) - 1; i >= 0; i-- {
		if payload, ok := decodeActionPayload(r.Actions[i]); ok {
			return payload, true
		}
	}
	return nil, false
}

// BestMessage picks the most user-facing text in the reply: the last entry
// of the first non-empty list among Results, Narration, Thinking, Steps and
// Actions. It returns "" when the reply had no sections at all.
func (r *Response) BestMessage() string {
	for _, list := range [][]string{r.Results, r.Narration, r.Thinking, r.Steps, r.Actions} {
		if len(list) > 0 {
			return list[len(list)-1]
		}
	}
	return ""
}

// Last returns the final entry of list, or "".
func Last(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1]
}

func decodeActionPayload(raw string) (map[string]any, bool) {
	candidate := stripCodeFence(raw)
	if strings.HasPrefix(candidate, "[") {
		return nil, false
	}
	if !strings.HasPrefix(candidate, "{") {
		// Tolerate prose around the object, e.g. "I will click {...}".
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start < 0 || end <= start {
			return nil, false
		}
		candidate = candidate[start : end+1]
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, false
	}
	actionType, ok := payload["type"].(string)
	if !ok || strings.TrimSpace(actionType) == "" {
		return nil, false
	}
	return payload, true
}

// stripCodeFence removes Markdown fences and inline backticks that models
// like to wrap JSON in. The section text has already been flattened onto one
// line, so "```json {...} ```" is the common shape.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = strings.TrimSpace(s[4:])
		}
	}
	return strings.TrimSpace(strings.Trim(s, "`"))
}
