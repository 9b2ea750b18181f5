package livesession

import "strings"

// PlaceholderText is returned as the response text when the model answered
// with audio but no output transcription arrived.
const PlaceholderText = "[Audio response - transcript not available]"

// SelectAuthoritativeText picks the user-facing text of a response.
//
// The output transcription is the only authoritative source. Model-turn text
// from native-audio models is internal reasoning and is never returned, even
// when no transcription is available.
func SelectAuthoritativeText(transcription, reasoning string) string {
	if t := strings.TrimSpace(transcription); t != "" {
		return t
	}
	return PlaceholderText
}
