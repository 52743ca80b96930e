package ollama

import (
	"fmt"
	"strings"

	"github.com/clankbot/clank/store"
)

// System prompts for the two generation kinds.
const (
	spontaneousPrompt = "Generate a single casual chat message that fits naturally with the recent conversation. " +
		"Be conversational and match the tone of recent messages. Don't reference specific users " +
		"or respond to anyone directly - just add to the conversation naturally. Keep it under " +
		"500 characters and avoid special formatting. Generate only the message content, nothing else."

	responsePrompt = "Generate a single casual response to the user's message, considering the recent chat context. " +
		"Be conversational and match the tone of the chat. Address the user's input naturally but " +
		"don't be overly formal. Keep it under 500 characters and avoid special formatting. " +
		"Generate only the response content, nothing else."
)

// Transcript entry counts embedded in the prompts.
const (
	spontaneousContextSize = 20
	responseContextSize    = 15
)

// formatSpontaneousContext renders the transcript tail for a
// spontaneous generation prompt.
func formatSpontaneousContext(messages []*store.Message) string {
	if len(messages) == 0 {
		return "Recent chat messages:\n(No recent messages)\n\nGenerate a natural chat message."
	}

	lines := []string{"Recent chat messages:"}
	for _, msg := range tail(messages, spontaneousContextSize) {
		lines = append(lines, fmt.Sprintf("[%s]: %s", msg.UserDisplayName, msg.Content))
	}
	lines = append(lines, "\nGenerate a natural chat message that fits the conversation.")
	return strings.Join(lines, "\n")
}

// formatResponseContext renders the transcript tail plus the mention
// being answered.
func formatResponseContext(messages []*store.Message, userInput, userName string) string {
	lines := []string{"Recent chat messages:"}
	if len(messages) > 0 {
		for _, msg := range tail(messages, responseContextSize) {
			lines = append(lines, fmt.Sprintf("[%s]: %s", msg.UserDisplayName, msg.Content))
		}
	} else {
		lines = append(lines, "(No recent messages)")
	}
	lines = append(lines, fmt.Sprintf("\nGenerate a response to %s's message: \"%s\"", userName, userInput))
	return strings.Join(lines, "\n")
}

func tail(messages []*store.Message, n int) []*store.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
