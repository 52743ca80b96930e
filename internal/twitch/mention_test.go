package twitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMention(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"@clank hello", true},
		{"@CLANK hello", true},
		{"clank hello", true},
		{"clank: hello", true},
		{"clank, what do you think", true},
		{"clank", true},
		{"clank?", true},
		{"  clank hi", true},
		{"clanky hello", false},       // name char after the name
		{"clank_fan hello", false},    // underscore continues the name
		{"hey clank", false},          // not at the start
		{"nothing here", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMention("clank", tt.content), "content %q", tt.content)
	}
}

func TestMentionPayload(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"@clank hello there", "hello there"},
		{"clank: hello there", "hello there"},
		{"clank, what's up?", "what's up?"},
		{"clank! tell me a joke", "tell me a joke"},
		{"clank? why", "why"},
		{"clank. ok", "ok"},
		{"clank", ""},
		{"@clank", ""},
		{"CLANK: Mixed Case Kept", "Mixed Case Kept"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MentionPayload("clank", tt.content), "content %q", tt.content)
	}
}

func TestMentionPayloadNonMentionUnchanged(t *testing.T) {
	assert.Equal(t, "hey clank", MentionPayload("clank", "hey clank"))
}

func TestMentionPayloadStripsOnePunctuationOnly(t *testing.T) {
	assert.Equal(t, ": double", MentionPayload("clank", "clank:: double"))
}
