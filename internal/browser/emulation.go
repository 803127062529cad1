// internal/browser/emulation.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/aibrowser-cli/internal/config"
)

// emulationTasks applies the configured user agent, locale and timezone to a
// tab. It is empty when none of them is set.
func emulationTasks(cfg config.BrowserConfig) chromedp.Tasks {
	var tasks chromedp.Tasks

	if cfg.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(cfg.UserAgent)
		if cfg.Locale != "" {
			ua = ua.WithAcceptLanguage(acceptLanguage(cfg.Locale))
		}
		tasks = append(tasks, ua)
	}

	if cfg.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(cfg.Timezone))
	}

	if cfg.Locale != "" {
		tasks = append(tasks,
			emulation.SetLocaleOverride().WithLocale(cfg.Locale),
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage(cfg.Locale)}),
		)
	}
	return tasks
}

// acceptLanguage turns a locale such as "de-DE" into "de-DE,de;q=0.9".
func acceptLanguage(locale string) string {
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, base)
}
