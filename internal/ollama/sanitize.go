package ollama

import (
	"regexp"
	"strings"
)

// maxResponseLength is the chat message ceiling enforced on every
// generated string.
const maxResponseLength = 500

var (
	markdownBold   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	markdownItalic = regexp.MustCompile(`\*(.*?)\*`)
	markdownCode   = regexp.MustCompile("`(.*?)`")
	markdownStrike = regexp.MustCompile(`~~(.*?)~~`)

	// Anything outside this set is dropped; the remainder is safe for
	// an IRC line.
	disallowedChars = regexp.MustCompile(`[^\w\s.,!?;:()\-'"@#$%&+=<>/\\]`)
)

// sanitizeResponse cleans a raw model response into a single bounded
// chat line: markdown emphasis stripped, unsupported characters
// removed, first non-empty line only, hard 500-character cap with
// word-boundary truncation.
func sanitizeResponse(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return "", ErrEmptyResponse
	}

	cleaned = markdownBold.ReplaceAllString(cleaned, "$1")
	cleaned = markdownItalic.ReplaceAllString(cleaned, "$1")
	cleaned = markdownCode.ReplaceAllString(cleaned, "$1")
	cleaned = markdownStrike.ReplaceAllString(cleaned, "$1")

	cleaned = disallowedChars.ReplaceAllString(cleaned, "")

	var line string
	for _, l := range strings.Split(cleaned, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return "", ErrEmptyResponse
	}

	if len(line) > maxResponseLength {
		truncated := line[:maxResponseLength-3]
		if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 400 {
			line = truncated[:lastSpace] + "..."
		} else {
			line = truncated + "..."
		}
	}
	return line, nil
}
