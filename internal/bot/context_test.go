package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/store"
	"github.com/clankbot/clank/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)

	s := store.New(driver, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, channel string, n int, user func(i int) string) {
	t.Helper()
	base := time.Now().Unix() - int64(n)
	for i := 0; i < n; i++ {
		require.NoError(t, s.StoreMessage(context.Background(), &store.Message{
			MessageID:       fmt.Sprintf("%s-%d", channel, i),
			Channel:         channel,
			UserID:          user(i),
			UserDisplayName: user(i),
			Content:         fmt.Sprintf("a real message number %d", i),
			CreatedTs:       base + int64(i),
		}))
	}
}

func TestEffectiveLimit(t *testing.T) {
	assert.Equal(t, 200, effectiveLimit(200, KindSpontaneous))
	assert.Equal(t, 150, effectiveLimit(200, KindResponse))
	assert.Equal(t, 30, effectiveLimit(40, KindResponse))
	// The floor never exceeds a tiny configured limit.
	assert.Equal(t, 12, effectiveLimit(12, KindResponse))
	assert.Equal(t, 15, effectiveLimit(20, KindResponse))
}

func TestFilterForContext(t *testing.T) {
	in := []*store.Message{
		{Content: "worth keeping"},
		{Content: "ok"},    // too short
		{Content: "LOL"},   // interjection
		{Content: " kek "}, // interjection, padded
		{Content: "wtf is happening here"}, // not bare, kept
	}
	out := filterForContext(in)
	require.Len(t, out, 2)
	assert.Equal(t, "worth keeping", out[0].Content)
	assert.Equal(t, "wtf is happening here", out[1].Content)
}

func TestSelectDiverseSmallSlicePassesThrough(t *testing.T) {
	msgs := make([]*store.Message, 20)
	for i := range msgs {
		msgs[i] = &store.Message{UserID: "u", Content: fmt.Sprintf("m%d", i)}
	}
	assert.Equal(t, msgs, selectDiverse(msgs))
}

func TestSelectDiversePrefersUnseenUsers(t *testing.T) {
	// 30 entries from one chatterbox, then 5 distinct users.
	var msgs []*store.Message
	for i := 0; i < 30; i++ {
		msgs = append(msgs, &store.Message{UserID: "spammer", Content: fmt.Sprintf("spam %d", i)})
	}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, &store.Message{UserID: fmt.Sprintf("u%d", i), Content: fmt.Sprintf("voice %d", i)})
	}

	out := selectDiverse(msgs)
	assert.LessOrEqual(t, len(out), diversityThreshold)

	// All five distinct voices survive the selection.
	users := make(map[string]int)
	for _, m := range out {
		users[m.UserID]++
	}
	for i := 0; i < 5; i++ {
		assert.Contains(t, users, fmt.Sprintf("u%d", i))
	}

	// Chronological order is restored.
	assert.Equal(t, "voice 4", out[len(out)-1].Content)
}

func TestContextManagerBuildCachesAndInvalidates(t *testing.T) {
	s := newTestStore(t)
	m := NewContextManager(s)
	ctx := context.Background()

	seed(t, s, "chan", 5, func(i int) string { return fmt.Sprintf("u%d", i) })

	first := m.Build(ctx, "chan", KindSpontaneous, 200)
	require.Len(t, first, 5)

	// New rows are invisible while the slice is cached.
	seed(t, s, "chan2", 1, func(int) string { return "ux" }) // unrelated channel
	require.NoError(t, s.StoreMessage(ctx, &store.Message{
		MessageID: "late", Channel: "chan", UserID: "ul",
		UserDisplayName: "ul", Content: "a late arrival", CreatedTs: time.Now().Unix(),
	}))
	assert.Len(t, m.Build(ctx, "chan", KindSpontaneous, 200), 5)

	m.Invalidate("chan")
	assert.Len(t, m.Build(ctx, "chan", KindSpontaneous, 200), 6)
}

func TestContextManagerKindsCachedSeparately(t *testing.T) {
	s := newTestStore(t)
	m := NewContextManager(s)
	ctx := context.Background()

	seed(t, s, "chan", 5, func(i int) string { return fmt.Sprintf("u%d", i) })

	spont := m.Build(ctx, "chan", KindSpontaneous, 200)
	resp := m.Build(ctx, "chan", KindResponse, 200)
	assert.Len(t, spont, 5)
	assert.Len(t, resp, 5)
}
