package cli

import "strings"

const noSpeechMessage = "No speech detected in the audio."

// Markers whisper.cpp prints instead of text for non-speech input.
var nonSpeechMarkers = []string{"[BLANK_AUDIO]", "[ Silence ]", "(silence)"}

func isBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}
	for _, marker := range nonSpeechMarkers {
		if strings.EqualFold(trimmed, marker) {
			return true
		}
	}
	return false
}
