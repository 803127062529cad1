// internal/browser/keys.go
package browser

import (
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps key names, lowercased, to the kb values chromedp dispatches.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"up":         kb.ArrowUp,
	"down":       kb.ArrowDown,
	"left":       kb.ArrowLeft,
	"right":      kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

var modifierKeys = map[string]input.Modifier{
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"command": input.ModifierMeta,
}

// keyStroke is one chromedp.KeyEvent call.
type keyStroke struct {
	Keys      string
	Modifiers []input.Modifier
}

// parseKeys interprets the send_keys argument. A space separated sequence of
// key names and combinations ("Tab Tab Enter", "Control+a") becomes one
// stroke per token; anything else is typed as literal text.
func parseKeys(keys string) []keyStroke {
	tokens := strings.Fields(keys)
	if len(tokens) == 0 {
		return nil
	}

	strokes := make([]keyStroke, 0, len(tokens))
	for _, tok := range tokens {
		stroke, ok := parseKeyToken(tok)
		if !ok {
			return []keyStroke{{Keys: keys}}
		}
		strokes = append(strokes, stroke)
	}
	return strokes
}

func parseKeyToken(tok string) (keyStroke, bool) {
	if k, ok := namedKeys[strings.ToLower(tok)]; ok {
		return keyStroke{Keys: k}, true
	}

	parts := strings.Split(tok, "+")
	if len(parts) < 2 {
		return keyStroke{}, false
	}

	var stroke keyStroke
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifierKeys[strings.ToLower(p)]
		if !ok {
			return keyStroke{}, false
		}
		stroke.Modifiers = append(stroke.Modifiers, mod)
	}

	last := parts[len(parts)-1]
	switch k, ok := namedKeys[strings.ToLower(last)]; {
	case ok:
		stroke.Keys = k
	case len([]rune(last)) == 1:
		stroke.Keys = last
	default:
		return keyStroke{}, false
	}
	return stroke, true
}
