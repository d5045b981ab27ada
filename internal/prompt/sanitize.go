// Package prompt builds the token-budgeted system prompt for a request
// from agent identity, retrieved memories, skills, and platform context.
package prompt

import (
	"log/slog"
	"regexp"
	"strings"
)

// filteredToken replaces injection-pattern matches in memory-derived text.
const filteredToken = "[filtered]"

// injectionPattern is one scrubber rule. precheck is a cheap substring gate
// that skips the regex on text that cannot match.
type injectionPattern struct {
	precheck string
	re       *regexp.Regexp
}

// Memory text is model output that later becomes model input, so the usual
// prompt-injection phrases are scrubbed before concatenation. This is
// defense-in-depth, not a guarantee.
var injectionPatterns = []injectionPattern{
	{"system", regexp.MustCompile(`(?i)system\s+(override|prompt|instruction)s?\s*:`)},
	{"ignore", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above)\s+instructions`)},
	{"you are", regexp.MustCompile(`(?i)you\s+are\s+now\b`)},
	{"act as", regexp.MustCompile(`(?i)act\s+as\s+(if|though)\b`)},
	{"instructions", regexp.MustCompile(`(?i)new\s+instructions\s*:`)},
	{"assistant", regexp.MustCompile(`(?i)^\s*(assistant|ai)\s*:\s*(sure|certainly|of course|i will)\b`)},
	{"as an ai", regexp.MustCompile(`(?i)\bas an ai( language model| assistant)?,?\s+i\b`)},
	{"<", regexp.MustCompile(`(?i)<\s*/?\s*(system|instructions?|prompt)\s*>`)},
}

// Sanitize replaces injection-pattern matches in memory-derived text with
// the literal [filtered] token.
func Sanitize(text string) string {
	if text == "" {
		return text
	}
	original := text
	lower := strings.ToLower(text)
	for _, p := range injectionPatterns {
		if !strings.Contains(lower, p.precheck) {
			continue
		}
		text = p.re.ReplaceAllString(text, filteredToken)
	}
	if text != original {
		slog.Debug("sanitized memory text for prompt",
			"original_len", len(original), "cleaned_len", len(text))
	}
	return text
}
