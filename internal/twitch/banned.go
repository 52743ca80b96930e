package twitch

import (
	"strings"
	"sync"
	"time"
)

// banIndicators are substrings of transport errors and notices that
// mean the bot has been ejected from a channel.
var banIndicators = []string{
	"banned",
	"msg_channel_banned",
	"forbidden",
	"access denied",
}

// isBanIndicator reports whether text names a channel-level ban.
func isBanIndicator(text string) bool {
	lowered := strings.ToLower(text)
	for _, indicator := range banIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

// bannedSet quarantines channels that rejected the bot. A banned
// channel is excluded from the join list until the retry delay
// elapses.
type bannedSet struct {
	mu         sync.Mutex
	entries    map[string]time.Time // channel -> when the ban was observed
	retryDelay time.Duration
	now        func() time.Time
}

func newBannedSet(retryDelay time.Duration) *bannedSet {
	return &bannedSet{
		entries:    make(map[string]time.Time),
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

func (b *bannedSet) Add(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[strings.ToLower(channel)] = b.now()
}

func (b *bannedSet) Contains(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[strings.ToLower(channel)]
	return ok
}

// Targets returns the subset of channels eligible for joining.
// Channels whose retry delay has elapsed are reinstated. If every
// target is quarantined the whole set is reinstated so the bot does
// not go permanently idle on a transient mass failure.
func (b *bannedSet) Targets(channels []string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for ch, since := range b.entries {
		if now.Sub(since) >= b.retryDelay {
			delete(b.entries, ch)
		}
	}

	eligible := make([]string, 0, len(channels))
	for _, ch := range channels {
		if _, banned := b.entries[strings.ToLower(ch)]; !banned {
			eligible = append(eligible, ch)
		}
	}

	if len(eligible) == 0 && len(channels) > 0 {
		b.entries = make(map[string]time.Time)
		eligible = append(eligible, channels...)
	}
	return eligible
}
