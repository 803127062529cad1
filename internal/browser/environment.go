// internal/browser/environment.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
)

// actionParams is the union of every action's parameters. Values arrive
// loosely typed from the model, so decoding is weak.
type actionParams struct {
	Query       string   `mapstructure:"query"`
	Engine      string   `mapstructure:"engine"`
	URL         string   `mapstructure:"url"`
	NewTab      bool     `mapstructure:"new_tab"`
	Index       *int     `mapstructure:"index"`
	CoordinateX *float64 `mapstructure:"coordinate_x"`
	CoordinateY *float64 `mapstructure:"coordinate_y"`
	Text        string   `mapstructure:"text"`
	Clear       *bool    `mapstructure:"clear"`
	Direction   string   `mapstructure:"direction"`
	Pages       float64  `mapstructure:"pages"`
	Keys        string   `mapstructure:"keys"`
}

// Refresh captures the active tab: location, title, open tabs, the indexed
// outline of interactive elements and, optionally, a screenshot.
func (c *Controller) Refresh(ctx context.Context, opts schemas.RefreshOptions) (*schemas.Snapshot, error) {
	tabCtx, err := c.activeTab()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := scoped(ctx, tabCtx, 0)
	defer cancel()

	snap := &schemas.Snapshot{CapturedAt: time.Now()}
	if err := chromedp.Run(runCtx,
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
	); err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}

	if snap.Tabs, err = c.listTabs(runCtx); err != nil {
		c.logger.Warn("Could not list tabs", zap.Error(err))
	}

	if opts.IncludeDOM {
		var (
			count    int
			document string
		)
		err := chromedp.Run(runCtx,
			chromedp.Evaluate(markInteractiveScript, &count),
			chromedp.OuterHTML("html", &document, chromedp.ByQuery),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to capture DOM: %w", err)
		}
		if snap.DOM, err = RenderOutline(document); err != nil {
			return nil, err
		}
		c.logger.Debug("Captured DOM outline", zap.Int("interactive_elements", count))
	}

	if opts.IncludeScreenshot {
		var buf []byte
		if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			c.logger.Warn("Could not capture screenshot", zap.Error(err))
		} else {
			snap.Screenshot = base64.StdEncoding.EncodeToString(buf)
		}
	}

	return snap, nil
}

// Execute performs one named action on the active tab. Problems the model can
// recover from, such as a stale element index, are reported in
// ActionResult.Error; a returned error means the browser itself failed.
func (c *Controller) Execute(ctx context.Context, action string, params map[string]any) (schemas.ActionResult, error) {
	var p actionParams
	if err := mapstructure.WeakDecode(params, &p); err != nil {
		return schemas.ActionResult{Error: fmt.Sprintf("invalid parameters for %s: %v", action, err)}, nil
	}

	if action == "navigate" && p.NewTab {
		target := normalizeURL(p.URL)
		if err := c.openTab(ctx, target); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("failed to open new tab: %w", err)
		}
		return ok(fmt.Sprintf("Opened %s in a new tab.", target)), nil
	}

	tabCtx, err := c.activeTab()
	if err != nil {
		return schemas.ActionResult{}, err
	}
	runCtx, cancel := scoped(ctx, tabCtx, 0)
	defer cancel()

	c.logger.Debug("Executing action", zap.String("action", action), zap.Any("params", params))

	switch action {
	case "search":
		target, err := BuildSearchURL(p.Engine, p.Query)
		if err != nil {
			return schemas.ActionResult{Error: err.Error()}, nil
		}
		if err := chromedp.Run(runCtx, chromedp.Navigate(target)); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("search navigation failed: %w", err)
		}
		return ok(fmt.Sprintf("Searched %s for '%s'.", engineName(p.Engine), p.Query)), nil

	case "navigate":
		target := normalizeURL(p.URL)
		if err := chromedp.Run(runCtx, chromedp.Navigate(target)); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("navigation failed: %w", err)
		}
		return ok(fmt.Sprintf("Navigated to %s.", target)), nil

	case "click":
		return c.click(runCtx, p)

	case "input":
		return c.input(runCtx, p)

	case "scroll":
		return c.scroll(runCtx, p)

	case "send_keys":
		strokes := parseKeys(p.Keys)
		if len(strokes) == 0 {
			return schemas.ActionResult{Error: "send_keys requires keys"}, nil
		}
		tasks := make(chromedp.Tasks, 0, len(strokes))
		for _, s := range strokes {
			tasks = append(tasks, chromedp.KeyEvent(s.Keys, chromedp.KeyModifiers(s.Modifiers...)))
		}
		if err := chromedp.Run(runCtx, tasks); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("key dispatch failed: %w", err)
		}
		return ok(fmt.Sprintf("Sent keys: %s.", p.Keys)), nil

	case "screenshot":
		var buf []byte
		if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("screenshot failed: %w", err)
		}
		return ok(fmt.Sprintf("Captured screenshot (%d bytes).", len(buf))), nil

	default:
		return schemas.ActionResult{Error: fmt.Sprintf("Unsupported action type: %s", action)}, nil
	}
}

func (c *Controller) click(ctx context.Context, p actionParams) (schemas.ActionResult, error) {
	if p.Index == nil {
		if p.CoordinateX == nil || p.CoordinateY == nil {
			return schemas.ActionResult{Error: "click requires an index or both coordinates"}, nil
		}
		if err := chromedp.Run(ctx, chromedp.MouseClickXY(*p.CoordinateX, *p.CoordinateY)); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("click at coordinates failed: %w", err)
		}
		return ok(fmt.Sprintf("Clicked at (%g, %g).", *p.CoordinateX, *p.CoordinateY)), nil
	}

	sel, missing, err := c.locate(ctx, *p.Index)
	if err != nil || missing != nil {
		return deref(missing), err
	}
	if err := chromedp.Run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return schemas.ActionResult{}, fmt.Errorf("click on element %d failed: %w", *p.Index, err)
	}
	return ok(fmt.Sprintf("Clicked element %d.", *p.Index)), nil
}

func (c *Controller) input(ctx context.Context, p actionParams) (schemas.ActionResult, error) {
	if p.Index == nil {
		return schemas.ActionResult{Error: "input requires an index"}, nil
	}
	sel, missing, err := c.locate(ctx, *p.Index)
	if err != nil || missing != nil {
		return deref(missing), err
	}

	tasks := chromedp.Tasks{chromedp.ScrollIntoView(sel, chromedp.ByQuery)}
	if p.Clear == nil || *p.Clear {
		tasks = append(tasks, chromedp.SetValue(sel, "", chromedp.ByQuery))
	}
	tasks = append(tasks, chromedp.SendKeys(sel, p.Text, chromedp.ByQuery))

	if err := chromedp.Run(ctx, tasks); err != nil {
		return schemas.ActionResult{}, fmt.Errorf("input into element %d failed: %w", *p.Index, err)
	}
	return ok(fmt.Sprintf("Typed '%s' into element %d.", clip(p.Text, 30), *p.Index)), nil
}

func (c *Controller) scroll(ctx context.Context, p actionParams) (schemas.ActionResult, error) {
	direction := p.Direction
	if direction == "" {
		direction = "down"
	}
	pages := p.Pages
	if pages <= 0 {
		pages = 1
	}
	sign := 1.0
	if direction == "up" {
		sign = -1.0
	}

	if p.Index != nil {
		sel, missing, err := c.locate(ctx, *p.Index)
		if err != nil || missing != nil {
			return deref(missing), err
		}
		var found bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(elementScrollScript(sel, sign*pages), &found)); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("scroll failed: %w", err)
		}
		return elementScrolled(*p.Index, direction, found), nil
	}

	script := fmt.Sprintf(`(() => { window.scrollBy(0, %g * window.innerHeight); return true; })()`, sign*pages)
	var done bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &done)); err != nil {
		return schemas.ActionResult{}, fmt.Errorf("scroll failed: %w", err)
	}
	return ok(fmt.Sprintf("Scrolled %s %g page(s).", direction, pages)), nil
}

// elementScrollScript scrolls the matched element by a multiple of its own
// height. It evaluates to false when the element has gone since locate.
func elementScrollScript(sel string, amount float64) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (!el) { return false; } el.scrollBy(0, %g * el.clientHeight); return true; })()`, sel, amount)
}

func elementScrolled(index int, direction string, found bool) schemas.ActionResult {
	if !found {
		return schemas.ActionResult{Error: missingElement(index)}
	}
	return ok(fmt.Sprintf("Scrolled element %d %s.", index, direction))
}

// locate resolves an element index to its selector. When the element is gone
// it returns a failed result instead of an error so the agent re-reads the page.
func (c *Controller) locate(ctx context.Context, index int) (string, *schemas.ActionResult, error) {
	sel := fmt.Sprintf(`[%s="%d"]`, indexAttr, index)
	var exists bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &exists)); err != nil {
		return "", nil, fmt.Errorf("element lookup failed: %w", err)
	}
	if !exists {
		return "", &schemas.ActionResult{Error: missingElement(index)}, nil
	}
	return sel, nil, nil
}

func missingElement(index int) string {
	return fmt.Sprintf("Element with index %d not available - page may have changed", index)
}

func deref(r *schemas.ActionResult) schemas.ActionResult {
	if r == nil {
		return schemas.ActionResult{}
	}
	return *r
}

func ok(content string) schemas.ActionResult {
	return schemas.ActionResult{ExtractedContent: content, Success: schemas.Succeeded()}
}

func engineName(engine string) string {
	if engine == "" {
		return "google"
	}
	return engine
}
