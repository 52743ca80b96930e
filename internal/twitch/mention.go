package twitch

import "strings"

// IsMention reports whether content addresses botName: either
// "@botname" at the start, or "botname" at the start followed by
// end-of-string or a character outside [A-Za-z0-9_].
func IsMention(botName, content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	lowered := strings.ToLower(content)
	bot := strings.ToLower(botName)

	if strings.HasPrefix(lowered, "@"+bot) {
		return true
	}
	if strings.HasPrefix(lowered, bot) {
		if len(lowered) == len(bot) {
			return true
		}
		return !isNameChar(lowered[len(bot)])
	}
	return false
}

func isNameChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// MentionPayload strips the leading bot address from content and
// drops one trailing punctuation character after the name. Content
// that is not a mention is returned as is.
func MentionPayload(botName, content string) string {
	if !IsMention(botName, content) {
		return content
	}

	trimmed := strings.TrimSpace(content)
	lowered := strings.ToLower(trimmed)
	bot := strings.ToLower(botName)

	var rest string
	if strings.HasPrefix(lowered, "@"+bot) {
		rest = strings.TrimSpace(trimmed[len(bot)+1:])
	} else {
		rest = strings.TrimSpace(trimmed[len(bot):])
	}

	if rest != "" && strings.ContainsRune(":,!?.", rune(rest[0])) {
		rest = strings.TrimSpace(rest[1:])
	}
	return rest
}
