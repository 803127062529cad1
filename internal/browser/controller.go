// internal/browser/controller.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
	"github.com/xkilldash9x/aibrowser-cli/internal/config"
)

const (
	launchTimeout = 30 * time.Second
	closeTimeout  = 10 * time.Second
)

// ensure Controller implements the interface.
var _ schemas.Environment = (*Controller)(nil)

// tab is one open page and the chromedp context bound to it.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller drives a single Chrome instance over CDP and implements
// schemas.Environment. Actions and snapshots always target the active tab.
type Controller struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx manages the browser process (or the remote connection).
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// browserCtx is the first tab; every new tab is derived from it.
	browserCtx context.Context

	mu     sync.Mutex
	tabs   map[target.ID]*tab
	active target.ID
	closed bool
}

// NewController launches Chrome (or attaches to cfg.RemoteURL), opens the
// start page and verifies the browser is responsive.
func NewController(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Controller, error) {
	c := &Controller{
		logger: logger.Named("browser"),
		cfg:    cfg,
		tabs:   make(map[target.ID]*tab),
	}

	if cfg.RemoteURL != "" {
		c.logger.Info("Attaching to remote browser", zap.String("url", cfg.RemoteURL))
		c.allocatorCtx, c.allocatorCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		c.logger.Info("Initializing browser allocator...", zap.Bool("headless", cfg.Headless))
		c.allocatorCtx, c.allocatorCancel = chromedp.NewExecAllocator(context.Background(), buildAllocatorOptions(cfg)...)
	}

	tabCtx, tabCancel := chromedp.NewContext(c.allocatorCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
		chromedp.WithErrorf(c.logger.Sugar().Debugf),
	)
	c.browserCtx = tabCtx

	startURL := cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}

	// The first Run allocates the browser and must use the tab context itself:
	// a derived deadline would kill the browser process when it fires.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		c.allocatorCancel()
		return nil, fmt.Errorf("failed to allocate browser: %w", err)
	}

	launchCtx, cancelLaunch := scoped(ctx, tabCtx, launchTimeout)
	defer cancelLaunch()
	if err := chromedp.Run(launchCtx, emulationTasks(cfg), chromedp.Navigate(startURL)); err != nil {
		tabCancel()
		c.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	id := chromedp.FromContext(tabCtx).Target.TargetID
	c.tabs[id] = &tab{ctx: tabCtx, cancel: tabCancel}
	c.active = id

	c.logger.Info("Browser launched successfully and is responsive.", zap.String("start_url", startURL))
	return c, nil
}

// buildAllocatorOptions assembles the launch flags for a local browser.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	// Flags appended later override chromedp's defaults of the same name.
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}

	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// launchFlags returns the command-line flags applied on top of chromedp's
// defaults. Custom args from the config win over the built-in ones.
func launchFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		// Drop the automation infobar and the navigator.webdriver hint.
		"enable-automation":         false,
		"disable-blink-features":    "AutomationControlled",
		"headless":                  cfg.Headless,
		"disable-gpu":               cfg.Headless,
		"hide-scrollbars":           cfg.Headless,
		"mute-audio":                cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-extensions":        true,
		"disable-notifications":     true,
		"no-first-run":              true,
		"no-default-browser-check":  true,
	}

	// Flags required for running inside containers (e.g., Docker on Linux).
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

// scoped derives a context that runs CDP commands on the chromedp context
// cdpCtx but is cancelled when parent ends or timeout elapses. Cancelling it
// never closes the tab.
func scoped(parent, cdpCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if dl, ok := parent.Deadline(); ok && (timeout <= 0 || time.Until(dl) < timeout) {
		ctx, cancel = context.WithDeadline(cdpCtx, dl)
	} else if timeout > 0 {
		ctx, cancel = context.WithTimeout(cdpCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(cdpCtx)
	}
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// activeTab returns the context of the tab actions should target.
func (c *Controller) activeTab() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("browser is closed")
	}
	t, ok := c.tabs[c.active]
	if !ok || t.ctx.Err() != nil {
		return nil, fmt.Errorf("no active browser tab")
	}
	return t.ctx, nil
}

// openTab creates a new tab, navigates it to url and makes it active.
func (c *Controller) openTab(ctx context.Context, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return err
	}

	runCtx, cancel := scoped(ctx, tabCtx, 0)
	defer cancel()
	if err := chromedp.Run(runCtx, emulationTasks(c.cfg), chromedp.Navigate(url)); err != nil {
		tabCancel()
		return err
	}

	id := chromedp.FromContext(tabCtx).Target.TargetID
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		tabCancel()
		return fmt.Errorf("browser is closed")
	}
	c.tabs[id] = &tab{ctx: tabCtx, cancel: tabCancel}
	c.active = id
	c.mu.Unlock()

	c.logger.Debug("Opened new tab", zap.String("target_id", string(id)), zap.String("url", url))
	return nil
}

// listTabs reports every open page target.
func (c *Controller) listTabs(ctx context.Context) ([]schemas.Tab, error) {
	infos, err := chromedp.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	tabs := make([]schemas.Tab, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tabs = append(tabs, schemas.Tab{
			ID:     string(info.TargetID),
			Title:  info.Title,
			URL:    info.URL,
			Active: info.TargetID == active,
		})
	}
	return tabs, nil
}

// Close shuts down every tab and then the browser process. A remote browser
// is only disconnected.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tabs := c.tabs
	c.tabs = nil
	c.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
	}

	c.logger.Info("Shutting down browser...")
	c.allocatorCancel()
	select {
	case <-c.allocatorCtx.Done():
		c.logger.Debug("Browser closed gracefully.")
	case <-time.After(closeTimeout):
		c.logger.Warn("Timeout waiting for browser to close.")
	}
	return nil
}
