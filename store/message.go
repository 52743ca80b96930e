package store

import (
	"context"
	"time"
)

// Message is one stored chat line. Immutable once stored; removed by
// moderation events or the retention sweep.
type Message struct {
	ID              int64
	MessageID       string // transport message id, globally unique
	Channel         string
	UserID          string
	UserDisplayName string
	Content         string
	CreatedTs       int64 // unix seconds
}

// StoreMessage persists an incoming message. Duplicate message ids are
// silently ignored; a nil error means the record is durably present.
func (s *Store) StoreMessage(ctx context.Context, create *Message) error {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateMessage(ctx, create)
}

// GetRecentMessages returns up to limit most recent messages for the
// channel in chronological (oldest first) order. Unavailability
// degrades to an empty slice so generation simply skips.
func (s *Store) GetRecentMessages(ctx context.Context, channel string, limit int) []*Message {
	list, err := s.driver.ListRecentMessages(ctx, channel, limit)
	if err != nil {
		s.logger.Warn("recent message read failed", "channel", channel, "error", err)
		return nil
	}
	return list
}

// DeleteMessage removes a single message by its transport id.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	return s.driver.DeleteMessage(ctx, messageID)
}

// DeleteUserMessages removes every stored message a user posted in a
// channel. Returns the number of rows removed.
func (s *Store) DeleteUserMessages(ctx context.Context, channel, userID string) (int64, error) {
	return s.driver.DeleteUserMessages(ctx, channel, userID)
}

// ClearChannel removes every stored message for a channel.
func (s *Store) ClearChannel(ctx context.Context, channel string) (int64, error) {
	return s.driver.ClearChannelMessages(ctx, channel)
}

// CleanupOldMessages deletes messages older than retentionDays across
// all channels. Returns the number of rows removed.
func (s *Store) CleanupOldMessages(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	return s.driver.DeleteMessagesBefore(ctx, cutoff)
}

// CountRecentMessages counts messages stored for the channel within
// the trailing window. Unavailability degrades to zero.
func (s *Store) CountRecentMessages(ctx context.Context, channel string, window time.Duration) int {
	since := time.Now().Add(-window).Unix()
	n, err := s.driver.CountMessagesSince(ctx, channel, since)
	if err != nil {
		s.logger.Warn("recent message count failed", "channel", channel, "error", err)
		return 0
	}
	return n
}
