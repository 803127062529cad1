// Package prompt renders the system, observation and answer prompts from
// embedded templates.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

const (
	// DefaultBasePrompt is used when no system prompt is configured.
	DefaultBasePrompt = "You are a focused AI that automates a Chromium browser to help the user.\n" +
		"Always narrate what you are doing, use natural first-person language, and keep responses brief.\n" +
		"If the task completes without further browser actions, say so explicitly."

	// NoStatePlaceholder stands in for a missing environment summary.
	NoStatePlaceholder = "No active state available yet."
	// NoContextPlaceholder stands in for an empty context log.
	NoContextPlaceholder = "No recent context."
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// ObservationInput carries the per-step values rendered into the observation prompt.
type ObservationInput struct {
	Task               string
	EnvironmentSummary string
	ExtraContext       string
}

// Composer builds prompts for a fixed base prompt and search engine.
type Composer struct {
	basePrompt   string
	searchEngine string
}

// NewComposer creates a Composer. Empty arguments fall back to the default
// instructions and to "google".
func NewComposer(basePrompt, searchEngine string) *Composer {
	return &Composer{
		basePrompt:   clean(basePrompt, DefaultBasePrompt),
		searchEngine: clean(searchEngine, "google"),
	}
}

// SearchEngine returns the engine the prompts advertise.
func (c *Composer) SearchEngine() string { return c.searchEngine }

// BuildSystem renders the system instructions describing the reply protocol.
func (c *Composer) BuildSystem() (string, error) {
	return render("system.tmpl", map[string]string{
		"BasePrompt":   c.basePrompt,
		"SearchEngine": c.searchEngine,
	})
}

// BuildObservation renders the per-step user prompt.
func (c *Composer) BuildObservation(in ObservationInput) (string, error) {
	return render("observation.tmpl", map[string]string{
		"Task":               clean(in.Task, ""),
		"EnvironmentSummary": clean(in.EnvironmentSummary, NoStatePlaceholder),
		"ExtraContext":       clean(in.ExtraContext, NoContextPlaceholder),
		"SearchEngine":       c.searchEngine,
	})
}

// BuildAnswer renders the structured trace of a finished turn.
func (c *Composer) BuildAnswer(narration, action, result string) (string, error) {
	return render("answer.tmpl", map[string]string{
		"Narration": clean(narration, ""),
		"Action":    clean(action, ""),
		"Result":    clean(result, ""),
	})
}

func render(name string, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func clean(text, fallback string) string {
	if cleaned := strings.TrimSpace(text); cleaned != "" {
		return cleaned
	}
	return fallback
}
