package structured

import (
	"regexp"
	"strings"
)

// legacyMarkers match the bracketed tags older prompts asked the model to
// emit. Each captures the rest of the line after the tag.
var legacyMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[memory\]\s*(.*)`),
	regexp.MustCompile(`(?i)\[action\]\s*(.*)`),
	regexp.MustCompile(`(?i)\[(?:result|success)\]\s*(.*)`),
}

// ExtractNarrations returns the user-facing lines of a reply: the Narration,
// Action and Result sections in that order, deduplicated by exact text with
// first occurrence kept.
//
// Deprecated fallback: when none of those sections exist, the first
// "[Memory]", "[Action]" and "[Result]"/"[Success]" tagged lines are used
// instead.
func ExtractNarrations(text string) []string {
	r := Parse(text)

	var entries []string
	for _, list := range [][]string{r.Narration, r.Actions, r.Results} {
		for _, v := range list {
			if cleaned := strings.TrimSpace(v); cleaned != "" {
				entries = append(entries, cleaned)
			}
		}
	}
	if len(entries) > 0 {
		return dedupe(entries)
	}

	for _, marker := range legacyMarkers {
		if m := marker.FindStringSubmatch(text); m != nil {
			if tagged := strings.TrimSpace(m[1]); tagged != "" {
				entries = append(entries, tagged)
			}
		}
	}
	return dedupe(entries)
}

func dedupe(entries []string) []string {
	if len(entries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
