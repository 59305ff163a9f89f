// ABOUTME: Keyword-based emotion tagging for final answer frames
// ABOUTME: First matching rule wins; unmatched text is neutral

package bridge

import (
	"regexp"
	"strings"
)

type emotionRule struct {
	pattern *regexp.Regexp
	emotion string
}

// emotionRules are checked in order against the lowercased answer text.
// Negative signals come first so an apology outranks a greeting.
var emotionRules = []emotionRule{
	{regexp.MustCompile(`sorry|apolog|unfortunately|cannot|can't|unable|failed|error`), "sad"},
	{regexp.MustCompile(`not sure|don't know|uncertain|unclear`), "confused"},
	{regexp.MustCompile(`danger|warning|careful|caution|do not|never do`), "shocked"},
	{regexp.MustCompile(`haha|lol|hilarious|funny`), "laughing"},
	{regexp.MustCompile(`\bdone\b|completed|finished|installed|configured|created|updated|deleted|all set`), "happy"},
	{regexp.MustCompile(`great|awesome|excellent|congrat|nice|well done`), "happy"},
	{regexp.MustCompile(`got it|understood|no problem|of course|sure thing`), "winking"},
	{regexp.MustCompile(`\bhello\b|\bhi\b|\bhey\b|good morning|good evening`), "happy"},
	{regexp.MustCompile(`delicious|recipe|tasty`), "delicious"},
	{regexp.MustCompile(`\blove\b|adore|beautiful`), "loving"},
	{regexp.MustCompile(`tired|sleepy|rest|good night`), "sleepy"},
	{regexp.MustCompile(`\bcool\b|impressive`), "cool"},
	{regexp.MustCompile(`let me think|hmm|interesting question`), "thinking"},
	{regexp.MustCompile(`\bwow\b|surprising|unexpected`), "surprised"},
	{regexp.MustCompile(`awkward|embarrass`), "embarrassed"},
	{regexp.MustCompile(`angry|furious|annoying`), "angry"},
}

// detectEmotion returns the emotion tag for a final answer
func detectEmotion(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range emotionRules {
		if rule.pattern.MatchString(lower) {
			return rule.emotion
		}
	}
	return "neutral"
}
