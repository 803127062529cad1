// internal/agent/actions.go
package agent

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Action is a decoded, validated action payload. Each variant knows the
// parameters it forwards to the environment and how to describe itself.
type Action interface {
	Type() ActionType
	// Params are the exact parameters handed to Environment.Execute.
	Params() map[string]any
	// Describe renders a short call-like description, e.g. click(index=4).
	Describe() string
}

// ActionDefaults fills parameters the model may omit.
type ActionDefaults struct {
	SearchEngine string
}

type SearchAction struct {
	Query  string `json:"query"`
	Engine string `json:"engine"`
}

func (a SearchAction) Type() ActionType { return ActionSearch }
func (a SearchAction) Params() map[string]any {
	return map[string]any{"query": a.Query, "engine": a.Engine}
}
func (a SearchAction) Describe() string {
	return fmt.Sprintf("search(query='%s', engine='%s')", a.Query, a.Engine)
}

type NavigateAction struct {
	URL    string `json:"url"`
	NewTab bool   `json:"new_tab"`
}

func (a NavigateAction) Type() ActionType { return ActionNavigate }
func (a NavigateAction) Params() map[string]any {
	return map[string]any{"url": a.URL, "new_tab": a.NewTab}
}
func (a NavigateAction) Describe() string {
	if a.NewTab {
		return fmt.Sprintf("navigate(url='%s', new_tab=true)", a.URL)
	}
	return fmt.Sprintf("navigate(url='%s')", a.URL)
}

// ClickAction targets either an element index or viewport coordinates.
type ClickAction struct {
	Index       *int     `json:"index"`
	CoordinateX *float64 `json:"coordinate_x"`
	CoordinateY *float64 `json:"coordinate_y"`
}

func (a ClickAction) Type() ActionType { return ActionClick }
func (a ClickAction) Params() map[string]any {
	if a.Index != nil {
		return map[string]any{"index": *a.Index}
	}
	return map[string]any{"coordinate_x": *a.CoordinateX, "coordinate_y": *a.CoordinateY}
}
func (a ClickAction) Describe() string {
	if a.Index != nil {
		return fmt.Sprintf("click(index=%d)", *a.Index)
	}
	return fmt.Sprintf("click(coordinate_x=%g, coordinate_y=%g)", *a.CoordinateX, *a.CoordinateY)
}

type InputAction struct {
	Index *int   `json:"index"`
	Text  string `json:"text"`
	Clear *bool  `json:"clear"`
}

func (a InputAction) Type() ActionType { return ActionInput }
func (a InputAction) Params() map[string]any {
	clearFirst := true
	if a.Clear != nil {
		clearFirst = *a.Clear
	}
	return map[string]any{"index": *a.Index, "text": a.Text, "clear": clearFirst}
}
func (a InputAction) Describe() string {
	return fmt.Sprintf("input(index=%d, text='%s')", *a.Index, truncate(a.Text, 30))
}

type ScrollAction struct {
	Direction string  `json:"direction"`
	Pages     float64 `json:"pages"`
	Index     *int    `json:"index"`
}

func (a ScrollAction) Type() ActionType { return ActionScroll }
func (a ScrollAction) Params() map[string]any {
	p := map[string]any{"direction": a.Direction, "pages": a.Pages}
	if a.Index != nil {
		p["index"] = *a.Index
	}
	return p
}
func (a ScrollAction) Describe() string {
	if a.Index != nil {
		return fmt.Sprintf("scroll(direction='%s', pages=%g, index=%d)", a.Direction, a.Pages, *a.Index)
	}
	return fmt.Sprintf("scroll(direction='%s', pages=%g)", a.Direction, a.Pages)
}

type SendKeysAction struct {
	Keys string `json:"keys"`
}

func (a SendKeysAction) Type() ActionType       { return ActionSendKeys }
func (a SendKeysAction) Params() map[string]any { return map[string]any{"keys": a.Keys} }
func (a SendKeysAction) Describe() string       { return fmt.Sprintf("send_keys(keys='%s')", a.Keys) }

type ScreenshotAction struct{}

func (ScreenshotAction) Type() ActionType       { return ActionScreenshot }
func (ScreenshotAction) Params() map[string]any { return map[string]any{} }
func (ScreenshotAction) Describe() string       { return "screenshot()" }

// TerminalAction ends or suspends the run. It is never sent to the environment.
type TerminalAction struct {
	Kind ActionType
}

func (a TerminalAction) Type() ActionType       { return a.Kind }
func (a TerminalAction) Params() map[string]any { return map[string]any{} }
func (a TerminalAction) Describe() string {
	switch {
	case a.Kind.IsAwaitInput():
		return "await_user_input()"
	case a.Kind == ActionNone:
		return "none (task complete)"
	default:
		return "done()"
	}
}

// UnsupportedAction carries a type no handler exists for. Executing it
// yields a failed outcome instead of an error.
type UnsupportedAction struct {
	Name    string
	Payload map[string]any
}

func (a UnsupportedAction) Type() ActionType       { return ActionType(a.Name) }
func (a UnsupportedAction) Params() map[string]any { return a.Payload }
func (a UnsupportedAction) Describe() string {
	keys := make([]string, 0, len(a.Payload))
	for k := range a.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Payload[k]))
	}
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(parts, ", "))
}

// DecodeAction converts a resolved payload into its typed variant. The
// "type" key is matched case-insensitively. Values are weakly typed, so
// {"index": "5"} decodes the same as {"index": 5}. Missing required
// parameters are an error; unknown types are not.
func DecodeAction(payload map[string]any, defaults ActionDefaults) (Action, error) {
	rawType, _ := payload["type"].(string)
	kind := ActionType(strings.ToLower(strings.TrimSpace(rawType)))
	if kind == "" {
		return nil, fmt.Errorf("action payload has no type")
	}

	params := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != "type" {
			params[k] = v
		}
	}

	switch kind {
	case ActionSearch:
		var a SearchAction
		if err := decodeParams(params, &a); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.Query) == "" {
			return nil, fmt.Errorf("search requires a non-empty query")
		}
		if a.Engine == "" {
			a.Engine = defaults.SearchEngine
		}
		if a.Engine == "" {
			a.Engine = "google"
		}
		return a, nil

	case ActionNavigate:
		var a NavigateAction
		if err := decodeParams(params, &a); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.URL) == "" {
			return nil, fmt.Errorf("navigate requires a url")
		}
		return a, nil

	case ActionClick:
		var raw struct {
			ClickAction `json:",squash"`
			X           *float64 `json:"x"`
			Y           *float64 `json:"y"`
		}
		if err := decodeParams(params, &raw); err != nil {
			return nil, err
		}
		a := raw.ClickAction
		if a.CoordinateX == nil && a.CoordinateY == nil {
			a.CoordinateX, a.CoordinateY = raw.X, raw.Y
		}
		if a.Index == nil && (a.CoordinateX == nil || a.CoordinateY == nil) {
			return nil, fmt.Errorf("click requires an index or both coordinates")
		}
		return a, nil

	case ActionInput:
		var a InputAction
		if err := decodeParams(params, &a); err != nil {
			return nil, err
		}
		if a.Index == nil {
			return nil, fmt.Errorf("input requires an index")
		}
		return a, nil

	case ActionScroll:
		a := ScrollAction{Direction: "down", Pages: 1}
		if err := decodeParams(params, &a); err != nil {
			return nil, err
		}
		a.Direction = strings.ToLower(strings.TrimSpace(a.Direction))
		if a.Direction != "up" && a.Direction != "down" {
			return nil, fmt.Errorf("scroll direction must be up or down, got %q", a.Direction)
		}
		if a.Pages <= 0 {
			a.Pages = 1
		}
		return a, nil

	case ActionSendKeys:
		var a SendKeysAction
		if err := decodeParams(params, &a); err != nil {
			return nil, err
		}
		if a.Keys == "" {
			return nil, fmt.Errorf("send_keys requires keys")
		}
		return a, nil

	case ActionScreenshot:
		return ScreenshotAction{}, nil

	case ActionDone, ActionNone, ActionAwaitUserInput, ActionAwaitingUserInput:
		return TerminalAction{Kind: kind}, nil

	default:
		return UnsupportedAction{Name: string(kind), Payload: params}, nil
	}
}

func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       integralFloatHook,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build parameter decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// integralFloatHook rejects fractional numbers bound for integer fields.
// JSON numbers arrive as float64 and would otherwise be truncated.
func integralFloatHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() == reflect.Pointer {
		to = to.Elem()
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	if from.Kind() != reflect.Float32 && from.Kind() != reflect.Float64 {
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("expected an integer, got %v", f)
	}
	return data, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
