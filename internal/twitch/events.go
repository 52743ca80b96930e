package twitch

import "time"

// MessageEvent is a parsed inbound chat message, already screened
// against the known-bot roster.
type MessageEvent struct {
	Channel     string
	UserID      string
	UserLogin   string
	DisplayName string
	MessageID   string
	Content     string
	Time        time.Time
	Badges      map[string]int

	// IsMention marks a message that addresses the bot by name.
	// MentionPayload is the remainder after the address is stripped.
	IsMention      bool
	MentionPayload string
}

// ModerationKind distinguishes the three CLEARMSG/CLEARCHAT shapes.
type ModerationKind int

const (
	ModerationDeleteMessage ModerationKind = iota
	ModerationDeleteUser
	ModerationClearChannel
)

func (k ModerationKind) String() string {
	switch k {
	case ModerationDeleteMessage:
		return "delete_message"
	case ModerationDeleteUser:
		return "delete_user"
	case ModerationClearChannel:
		return "clear_channel"
	default:
		return "unknown"
	}
}

// ModerationEvent is a parsed CLEARMSG or CLEARCHAT.
type ModerationEvent struct {
	Kind         ModerationKind
	Channel      string
	TargetMsgID  string // delete-one
	TargetUserID string // delete-all-from-user
}

// CommandEvent is an inbound operator command, dispatched before
// content filtering and never stored in the transcript.
type CommandEvent struct {
	Channel     string
	UserID      string
	UserLogin   string
	DisplayName string
	Badges      map[string]int
	Args        []string // tokens after the command prefix
}
