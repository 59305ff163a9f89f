// ABOUTME: Tests for speech cleanup and emotion tagging of final answers

package bridge

import "testing"

func TestCleanForSpeech(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bullets stripped", "Plan:\n- step one\n- step two", "Plan:\nstep one\nstep two"},
		{"numbered items stripped", "Steps:\n1. first\n2) second", "Steps:\nfirst\nsecond"},
		{"blank lines collapsed", "a\n\n\nb", "a\nb"},
		{"surrounding whitespace trimmed", "  hello  ", "hello"},
		{"plain text untouched", "nothing to clean", "nothing to clean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanForSpeech(tt.in); got != tt.want {
				t.Errorf("cleanForSpeech(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectEmotion(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Sorry, I cannot do that.", "sad"},
		{"I'm not sure about this one.", "confused"},
		{"Warning: this deletes everything.", "shocked"},
		{"The package is installed and configured.", "happy"},
		{"Got it, no problem.", "winking"},
		{"Hello there!", "happy"},
		{"That is a cool trick.", "cool"},
		{"The answer is 42.", "neutral"},
	}

	for _, tt := range tests {
		if got := detectEmotion(tt.text); got != tt.want {
			t.Errorf("detectEmotion(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
