package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

func (d *DB) GetUserLastResponse(ctx context.Context, channel, userID string) (*int64, error) {
	var ts int64
	err := d.db.QueryRowContext(ctx, `
		SELECT last_response_ts FROM user_response_cooldowns
		WHERE channel = ? AND user_id = ?`, channel, userID,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user last response")
	}
	return &ts, nil
}

// UpsertUserResponseTimestamp records when the bot last answered the
// user, replacing any prior row for the (channel, user) pair.
func (d *DB) UpsertUserResponseTimestamp(ctx context.Context, channel, userID string, ts int64) error {
	now := time.Now().Unix()
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO user_response_cooldowns (channel, user_id, last_response_ts, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (channel, user_id) DO UPDATE SET
			last_response_ts = excluded.last_response_ts,
			updated_ts = excluded.updated_ts`,
		channel, userID, ts, now, now); err != nil {
		return errors.Wrap(err, "failed to upsert user response timestamp")
	}
	return nil
}

func (d *DB) DeleteUserCooldownsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM user_response_cooldowns WHERE updated_ts < ?", cutoffTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old user cooldowns")
	}
	return result.RowsAffected()
}
