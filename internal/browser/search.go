// internal/browser/search.go
package browser

import (
	"fmt"
	"net/url"
	"strings"
)

// searchEngines maps an engine name to its query URL prefix.
var searchEngines = map[string]string{
	"google":     "https://www.google.com/search?udm=14&q=",
	"bing":       "https://www.bing.com/search?q=",
	"duckduckgo": "https://duckduckgo.com/?q=",
}

// BuildSearchURL returns the results page URL for query on engine. An empty
// engine means google.
func BuildSearchURL(engine, query string) (string, error) {
	engine = strings.ToLower(strings.TrimSpace(engine))
	if engine == "" {
		engine = "google"
	}
	prefix, ok := searchEngines[engine]
	if !ok {
		return "", fmt.Errorf("unsupported search engine %q (use google, bing or duckduckgo)", engine)
	}
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("search query is empty")
	}
	return prefix + url.QueryEscape(query), nil
}

// normalizeURL adds an https scheme to bare hosts such as "example.com".
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") ||
		strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "file:") {
		return raw
	}
	return "https://" + raw
}
