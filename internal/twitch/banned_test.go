package twitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsBanIndicator(t *testing.T) {
	assert.True(t, isBanIndicator("msg_channel_banned"))
	assert.True(t, isBanIndicator("You are BANNED from this room"))
	assert.True(t, isBanIndicator("403 Forbidden"))
	assert.True(t, isBanIndicator("access denied"))
	assert.False(t, isBanIndicator("msg_slowmode"))
	assert.False(t, isBanIndicator(""))
}

func TestBannedSetQuarantineAndReinstate(t *testing.T) {
	clock := time.Unix(1000, 0)
	b := newBannedSet(time.Hour)
	b.now = func() time.Time { return clock }

	channels := []string{"alpha", "bravo", "charlie"}
	b.Add("Bravo")
	assert.True(t, b.Contains("bravo"))
	assert.True(t, b.Contains("BRAVO"))

	assert.Equal(t, []string{"alpha", "charlie"}, b.Targets(channels))

	// Retry delay elapsed: the channel rejoins the rotation.
	clock = clock.Add(time.Hour)
	assert.Equal(t, channels, b.Targets(channels))
	assert.False(t, b.Contains("bravo"))
}

func TestBannedSetAllBannedReinstatesEverything(t *testing.T) {
	b := newBannedSet(time.Hour)
	channels := []string{"alpha", "bravo"}
	b.Add("alpha")
	b.Add("bravo")

	got := b.Targets(channels)
	assert.Equal(t, channels, got, "an empty join list would idle the bot forever")
	assert.False(t, b.Contains("alpha"))
	assert.False(t, b.Contains("bravo"))
}

func TestReconnectDelayBounds(t *testing.T) {
	// ±20% jitter around min(300s, 5s·2^(n-1)).
	for attempt, base := range map[int]time.Duration{
		1:  5 * time.Second,
		2:  10 * time.Second,
		3:  20 * time.Second,
		7:  300 * time.Second,
		50: 300 * time.Second,
	} {
		for i := 0; i < 20; i++ {
			d := reconnectDelay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8), "attempt %d", attempt)
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2), "attempt %d", attempt)
		}
	}
}

func TestIgnoreSet(t *testing.T) {
	set := newIgnoreSet("ClankBot", []string{" ExtraBot ", ""})

	assert.True(t, set.contains("clankbot"))
	assert.True(t, set.contains("Nightbot"))
	assert.True(t, set.contains("streamelements"))
	assert.True(t, set.contains("extrabot"))
	assert.False(t, set.contains("regular_viewer"))

	assert.True(t, isSystemUser("jtv"))
	assert.True(t, isSystemUser("twitchnotify"))
	assert.True(t, isSystemUser("TMI"))
	assert.False(t, isSystemUser("clankbot"))
}
