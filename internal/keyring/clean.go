package keyring

import (
	"log/slog"
	"regexp"
	"strings"
)

// Go regexp has no backreferences, so each tag gets its own pattern.
var reasoningTags = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

var finalTag = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

// Clean strips model artifacts from a reply before it is validated:
// reasoning blocks, <final> wrappers and paragraphs repeated back to back.
func Clean(content string) string {
	original := content

	if lower := strings.ToLower(content); strings.Contains(lower, "<think") || strings.Contains(lower, "<thought") {
		for _, pat := range reasoningTags {
			content = pat.ReplaceAllString(content, "")
		}
	}
	content = finalTag.ReplaceAllString(content, "")
	content = collapseRepeats(content)
	content = strings.TrimSpace(content)

	if content != strings.TrimSpace(original) {
		slog.Debug("keyring: cleaned reply", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

func collapseRepeats(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(out) > 0 && trimmed == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, block)
	}
	return strings.Join(out, "\n\n")
}
