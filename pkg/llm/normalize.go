package llm

import (
	"regexp"
	"strings"
)

var (
	openFence  = regexp.MustCompile("^```[a-zA-Z]*\n?")
	closeFence = regexp.MustCompile("```$")
)

// Normalize turns a raw completion into a single-line expression: it strips a
// surrounding code fence and keeps the last non-empty line. Models often put
// an explanation before the answer.
func Normalize(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = openFence.ReplaceAllString(text, "")
		text = closeFence.ReplaceAllString(text, "")
	}

	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return strings.TrimSpace(text)
}
