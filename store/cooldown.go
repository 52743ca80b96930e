package store

import (
	"context"
	"time"
)

// UserResponseCooldown tracks when the bot last answered a user in a
// channel. Keyed by (channel, user id).
type UserResponseCooldown struct {
	ID             int64
	Channel        string
	UserID         string
	LastResponseTs int64
	CreatedTs      int64
	UpdatedTs      int64
}

// GetUserLastResponse returns the last time the bot answered the user
// in the channel. ok is false when the bot never answered them.
func (s *Store) GetUserLastResponse(ctx context.Context, channel, userID string) (time.Time, bool, error) {
	ts, err := s.driver.GetUserLastResponse(ctx, channel, userID)
	if err != nil {
		return time.Time{}, false, err
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return time.Unix(*ts, 0), true, nil
}

// UpdateUserResponseTimestamp records that the bot just answered the
// user in the channel.
func (s *Store) UpdateUserResponseTimestamp(ctx context.Context, channel, userID string) error {
	return s.driver.UpsertUserResponseTimestamp(ctx, channel, userID, time.Now().Unix())
}

// CleanupOldUserCooldowns removes cooldown rows untouched for longer
// than retentionDays. Swept together with the message retention.
func (s *Store) CleanupOldUserCooldowns(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	return s.driver.DeleteUserCooldownsBefore(ctx, cutoff)
}
