package store_test

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

func seedMessages(t *testing.T, s *store.Store, channel string, n int, base int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.StoreMessage(context.Background(), &store.Message{
			MessageID:       fmt.Sprintf("%s-msg-%d", channel, i),
			Channel:         channel,
			UserID:          fmt.Sprintf("u%d", i%3),
			UserDisplayName: fmt.Sprintf("User%d", i%3),
			Content:         fmt.Sprintf("message %d", i),
			CreatedTs:       base + int64(i),
		}))
	}
}

func TestStoreMessageDuplicateIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &store.Message{
		MessageID:       "dup-1",
		Channel:         "chan",
		UserID:          "u1",
		UserDisplayName: "User1",
		Content:         "first",
		CreatedTs:       100,
	}
	require.NoError(t, s.StoreMessage(ctx, msg))

	// Same transport id again: silently ignored, first write wins.
	again := *msg
	again.Content = "second"
	require.NoError(t, s.StoreMessage(ctx, &again))

	msgs := s.GetRecentMessages(ctx, "chan", 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestGetRecentMessagesChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMessages(t, s, "chan", 10, 1000)

	msgs := s.GetRecentMessages(ctx, "chan", 4)
	require.Len(t, msgs, 4)
	assert.Equal(t, "message 6", msgs[0].Content)
	assert.Equal(t, "message 9", msgs[3].Content)

	// Another channel's transcript is invisible.
	assert.Empty(t, s.GetRecentMessages(ctx, "other", 10))
}

func TestModerationDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMessages(t, s, "chan", 9, 1000)

	deleted, err := s.DeleteMessage(ctx, "chan-msg-4")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteMessage(ctx, "chan-msg-4")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds nothing")

	// u0 posted messages 0, 3 and 6.
	n, err := s.DeleteUserMessages(ctx, "chan", "u0")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.ClearChannel(ctx, "chan")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Empty(t, s.GetRecentMessages(ctx, "chan", 10))
}

func TestCountAndCleanupMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Unix()
	old := time.Now().AddDate(0, 0, -40).Unix()
	seedMessages(t, s, "chan", 5, now-10)
	require.NoError(t, s.StoreMessage(ctx, &store.Message{
		MessageID: "ancient", Channel: "chan", UserID: "u9",
		UserDisplayName: "User9", Content: "old", CreatedTs: old,
	}))

	assert.Equal(t, 5, s.CountRecentMessages(ctx, "chan", 24*time.Hour))

	n, err := s.CleanupOldMessages(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetConfigDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetConfig(ctx, "newchan")
	require.NoError(t, err)
	assert.Equal(t, "newchan", cfg.Channel)
	assert.Equal(t, store.DefaultMessageThreshold, cfg.MessageThreshold)
	assert.Equal(t, store.DefaultSpontaneousCooldown, cfg.SpontaneousCooldown)
	assert.Equal(t, store.DefaultResponseCooldown, cfg.ResponseCooldown)
	assert.Equal(t, store.DefaultContextLimit, cfg.ContextLimit)
	assert.Nil(t, cfg.ModelOverride)
	assert.Equal(t, 0, cfg.MessageCount)
	assert.Nil(t, cfg.LastSpontaneousTs)
}

func TestUpdateConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	threshold := 50
	model := "llama3.2"
	cfg, err := s.UpdateConfig(ctx, &store.UpdateChannelConfig{
		Channel:          "chan",
		MessageThreshold: &threshold,
		ModelOverride:    &model,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MessageThreshold)
	require.NotNil(t, cfg.ModelOverride)
	assert.Equal(t, "llama3.2", *cfg.ModelOverride)

	// Clearing the override with the empty string.
	empty := ""
	cfg, err = s.UpdateConfig(ctx, &store.UpdateChannelConfig{
		Channel:       "chan",
		ModelOverride: &empty,
	})
	require.NoError(t, err)
	assert.Nil(t, cfg.ModelOverride)
	assert.Equal(t, 50, cfg.MessageThreshold, "unrelated settings survive")
}

func TestUpdateConfigValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := 0
	_, err := s.UpdateConfig(ctx, &store.UpdateChannelConfig{Channel: "chan", MessageThreshold: &bad})
	assert.Error(t, err)

	tooLong := 5000
	_, err = s.UpdateConfig(ctx, &store.UpdateChannelConfig{Channel: "chan", SpontaneousCooldown: &tooLong})
	assert.Error(t, err)

	small := 5
	_, err = s.UpdateConfig(ctx, &store.UpdateChannelConfig{Channel: "chan", ContextLimit: &small})
	assert.Error(t, err)

	badModel := "no spaces allowed"
	_, err = s.UpdateConfig(ctx, &store.UpdateChannelConfig{Channel: "chan", ModelOverride: &badModel})
	assert.Error(t, err)
}

func TestMessageCountLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := s.IncrementMessageCount(ctx, "chan")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	require.NoError(t, s.ResetMessageCount(ctx, "chan"))
	cfg, err := s.GetConfig(ctx, "chan")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MessageCount)
}

func TestRecordSpontaneousGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementMessageCount(ctx, "chan")
	require.NoError(t, err)

	before := time.Now().Unix()
	require.NoError(t, s.RecordSpontaneousGeneration(ctx, "chan"))

	cfg, err := s.GetConfig(ctx, "chan")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MessageCount)
	require.NotNil(t, cfg.LastSpontaneousTs)
	assert.GreaterOrEqual(t, *cfg.LastSpontaneousTs, before)
}

func TestConfigCacheInvalidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetConfig(ctx, "chan")
	require.NoError(t, err)

	// A fresh read after invalidation sees the database row.
	s.InvalidateConfigCache("chan")
	cfg, err := s.GetConfig(ctx, "chan")
	require.NoError(t, err)
	assert.Equal(t, "chan", cfg.Channel)
}

func TestUserCooldowns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetUserLastResponse(ctx, "chan", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateUserResponseTimestamp(ctx, "chan", "u1"))
	ts, ok, err := s.GetUserLastResponse(ctx, "chan", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)

	// Upsert, not a second row.
	require.NoError(t, s.UpdateUserResponseTimestamp(ctx, "chan", "u1"))
	_, ok, err = s.GetUserLastResponse(ctx, "chan", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMetricsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []*store.Metric{
		{Channel: "chan", MetricType: "response_time", Value: 1200},
		{Channel: "chan", MetricType: "response_time", Value: 800},
		{Channel: "chan", MetricType: "spontaneous_success", Value: 1},
	}
	require.NoError(t, s.RecordMetrics(ctx, batch))
	require.NoError(t, s.RecordMetrics(ctx, nil), "empty batch is a no-op")

	aggs := s.GetPerformanceStats(ctx, "chan", time.Hour)
	byType := map[string]*store.MetricAggregate{}
	for _, a := range aggs {
		byType[a.MetricType] = a
	}
	require.Contains(t, byType, "response_time")
	assert.Equal(t, int64(2), byType["response_time"].Count)
	assert.InDelta(t, 1000, byType["response_time"].Avg, 0.01)
	assert.InDelta(t, 2000, byType["response_time"].Sum, 0.01)
	require.Contains(t, byType, "spontaneous_success")
	assert.Equal(t, int64(1), byType["spontaneous_success"].Count)
}

func TestAuthTokenSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAuthToken(ctx)
	assert.ErrorIs(t, err, store.ErrNoAuthToken)

	refresh := "refresh-ct"
	user := "clankbot"
	require.NoError(t, s.StoreAuthToken(ctx, &store.AuthToken{
		AccessToken:  "access-ct-1",
		RefreshToken: &refresh,
		BotUsername:  &user,
	}))

	// Replacing keeps exactly one row.
	require.NoError(t, s.StoreAuthToken(ctx, &store.AuthToken{AccessToken: "access-ct-2"}))
	tok, err := s.GetAuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-ct-2", tok.AccessToken)
	assert.Nil(t, tok.RefreshToken)

	tok.AccessToken = "access-ct-3"
	require.NoError(t, s.UpdateAuthToken(ctx, tok))
	tok, err = s.GetAuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-ct-3", tok.AccessToken)

	require.NoError(t, s.DeleteAuthToken(ctx))
	_, err = s.GetAuthToken(ctx)
	assert.ErrorIs(t, err, store.ErrNoAuthToken)

	err = s.UpdateAuthToken(ctx, &store.AuthToken{ID: 99, AccessToken: "x"})
	assert.ErrorIs(t, err, store.ErrNoAuthToken)
}

func TestIsReadOnlyAndRetryable(t *testing.T) {
	assert.True(t, store.IsReadOnlyError(fmt.Errorf("attempt to write a readonly database")))
	assert.True(t, store.IsReadOnlyError(fmt.Errorf("database is locked")))
	assert.False(t, store.IsReadOnlyError(nil))
	assert.False(t, store.IsReadOnlyError(fmt.Errorf("connection refused")))

	assert.True(t, store.IsRetryable(fmt.Errorf("connection refused")))
	assert.False(t, store.IsRetryable(store.ErrUnavailable))
	assert.False(t, store.IsRetryable(store.ErrReadOnly))
	assert.False(t, store.IsRetryable(context.Canceled))
	assert.False(t, store.IsRetryable(nil))
}
