// internal/browser/outline.go
package browser

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// indexAttr tags every interactive element with the index the model uses to
// refer to it.
const indexAttr = "data-aibrowser-index"

const (
	maxOutlineElements = 250
	maxElementText     = 80
	maxAttrValue       = 60
)

// markInteractiveScript numbers every visible interactive element in the
// current document, replacing any previous numbering, and returns the count.
const markInteractiveScript = `(() => {
	const attr = '` + indexAttr + `';
	const selector = [
		'a[href]', 'button', 'input:not([type=hidden])', 'select', 'textarea', 'summary',
		'[role=button]', '[role=link]', '[role=checkbox]', '[role=radio]', '[role=tab]',
		'[role=menuitem]', '[role=option]', '[role=switch]', '[role=combobox]', '[role=textbox]',
		'[contenteditable=""]', '[contenteditable=true]', '[onclick]', '[tabindex]:not([tabindex="-1"])'
	].join(',');
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
	let index = 0;
	for (const el of document.querySelectorAll(selector)) {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		if (el.disabled) continue;
		el.setAttribute(attr, String(++index));
	}
	return index;
})()`

// outlineAttrs are the attributes worth showing to the model, in render order.
var outlineAttrs = []string{"type", "name", "role", "placeholder", "aria-label", "title", "alt", "value", "href"}

// RenderOutline turns a marked document into one line per indexed element,
// e.g. `[3]<input type="text" placeholder="Search">`. Elements appear in
// document order.
func RenderOutline(document string) (string, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("failed to parse document: %w", err)
	}

	var (
		lines   []string
		skipped int
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if idx, ok := attrValue(n, indexAttr); ok {
				if _, err := strconv.Atoi(idx); err == nil {
					if len(lines) < maxOutlineElements {
						lines = append(lines, renderElement(idx, n))
					} else {
						skipped++
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	if skipped > 0 {
		lines = append(lines, fmt.Sprintf("... %d more elements not shown", skipped))
	}
	return strings.Join(lines, "\n"), nil
}

func renderElement(idx string, n *html.Node) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(idx)
	sb.WriteString("]<")
	sb.WriteString(n.Data)
	for _, name := range outlineAttrs {
		if v, ok := attrValue(n, name); ok && strings.TrimSpace(v) != "" {
			fmt.Fprintf(&sb, " %s=%q", name, clip(collapseSpace(v), maxAttrValue))
		}
	}
	sb.WriteString(">")

	if isVoid(n) {
		return sb.String()
	}
	sb.WriteString(clip(collapseSpace(textContent(n)), maxElementText))
	sb.WriteString("</")
	sb.WriteString(n.Data)
	sb.WriteString(">")
	return sb.String()
}

func isVoid(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input, atom.Img, atom.Br, atom.Hr, atom.Area, atom.Embed, atom.Source, atom.Wbr:
		return true
	}
	return false
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// textContent concatenates the text below n, skipping script and style.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
