package llm

import (
	"regexp"
	"strings"
)

var thinkPattern = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// SplitThinking separates a model response into its reasoning segment and
// the final answer.
//
// When the final segment after the think block is empty, the cleaned full
// text is used so a response that is all reasoning still yields content.
func SplitThinking(raw string) Completion {
	raw = strings.TrimSpace(raw)
	m := thinkPattern.FindStringSubmatchIndex(raw)
	if m == nil {
		return Completion{Final: raw}
	}

	reasoning := strings.TrimSpace(raw[m[2]:m[3]])
	final := strings.TrimSpace(raw[m[1]:])
	if final == "" {
		final = strings.TrimSpace(thinkPattern.ReplaceAllString(raw, ""))
		if final == "" {
			final = raw
		}
	}
	return Completion{Reasoning: reasoning, Final: final}
}

// StripThinking removes all think blocks, keeping only answer text.
func StripThinking(raw string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(raw, ""))
}
