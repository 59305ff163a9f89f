// ABOUTME: Final answer text cleanup for speech-friendly output
// ABOUTME: Strips list markers and collapses blank lines

package bridge

import (
	"regexp"
	"strings"
)

var (
	numberedItem = regexp.MustCompile(`\n\d+[\.\)]\s*`)
	blankLines   = regexp.MustCompile(`\n{2,}`)
)

// listMarkers are leading bullet characters stripped from line starts
var listMarkers = []string{"-", "*", "•", "·"}

// cleanForSpeech normalizes a final answer so a text-to-speech client can
// read it aloud: bullet and numbered list markers are removed and runs of
// blank lines collapse to one newline.
func cleanForSpeech(text string) string {
	clean := strings.TrimSpace(text)
	for _, marker := range listMarkers {
		clean = strings.ReplaceAll(clean, "\n"+marker+" ", "\n")
		clean = strings.ReplaceAll(clean, "\n"+marker, "\n")
	}
	clean = numberedItem.ReplaceAllString(clean, "\n")
	clean = blankLines.ReplaceAllString(clean, "\n")
	return strings.TrimSpace(clean)
}
