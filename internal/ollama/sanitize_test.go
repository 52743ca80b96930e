package ollama

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeResponseStripsMarkdown(t *testing.T) {
	out, err := sanitizeResponse("**bold** and *italic* and `code` and ~~gone~~")
	require.NoError(t, err)
	assert.Equal(t, "bold and italic and code and gone", out)
}

func TestSanitizeResponseDropsDisallowedChars(t *testing.T) {
	out, err := sanitizeResponse("hey 👋 chat… what's up?")
	require.NoError(t, err)
	assert.Equal(t, "hey  chat what's up?", out)
}

func TestSanitizeResponseKeepsUnderscores(t *testing.T) {
	out, err := sanitizeResponse("shoutout to some_user")
	require.NoError(t, err)
	assert.Equal(t, "shoutout to some_user", out)
}

func TestSanitizeResponseFirstNonEmptyLine(t *testing.T) {
	out, err := sanitizeResponse("\n\n  first real line\nsecond line")
	require.NoError(t, err)
	assert.Equal(t, "first real line", out)
}

func TestSanitizeResponseEmpty(t *testing.T) {
	_, err := sanitizeResponse("   ")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	// Nothing survives the character strip.
	_, err = sanitizeResponse("…—…")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSanitizeResponseTruncatesAtWordBoundary(t *testing.T) {
	raw := strings.Repeat("word ", 150) // 750 chars
	out, err := sanitizeResponse(raw)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), maxResponseLength)
	assert.True(t, strings.HasSuffix(out, "..."))
	// The break happens at a space, not mid-word.
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(out, "..."), "wor"))
}

func TestSanitizeResponseTruncatesHardWithoutSpaces(t *testing.T) {
	raw := strings.Repeat("x", 600)
	out, err := sanitizeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, maxResponseLength, len(out))
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestSanitizeResponseShortUntouched(t *testing.T) {
	out, err := sanitizeResponse("just a normal line")
	require.NoError(t, err)
	assert.Equal(t, "just a normal line", out)
}
