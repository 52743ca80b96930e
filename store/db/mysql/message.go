package mysql

import (
	"context"

	"github.com/pkg/errors"

	"github.com/clankbot/clank/store"
)

// CreateMessage stores one chat line. INSERT IGNORE keeps duplicate
// transport ids idempotent.
func (d *DB) CreateMessage(ctx context.Context, create *store.Message) error {
	stmt := `
		INSERT IGNORE INTO messages (
			message_id, channel, user_id, user_display_name, message_content, created_ts
		) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.MessageID,
		create.Channel,
		create.UserID,
		create.UserDisplayName,
		create.Content,
		create.CreatedTs,
	); err != nil {
		return errors.Wrap(err, "failed to insert message")
	}
	return nil
}

// ListRecentMessages returns up to limit most recent messages for the
// channel in chronological order.
func (d *DB) ListRecentMessages(ctx context.Context, channel string, limit int) ([]*store.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, message_id, channel, user_id, user_display_name, message_content, created_ts
		FROM messages
		WHERE channel = ?
		ORDER BY created_ts DESC, id DESC
		LIMIT ?`, channel, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		msg := &store.Message{}
		if err := rows.Scan(
			&msg.ID,
			&msg.MessageID,
			&msg.Channel,
			&msg.UserID,
			&msg.UserDisplayName,
			&msg.Content,
			&msg.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (d *DB) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM messages WHERE message_id = ?", messageID)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete message")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

func (d *DB) DeleteUserMessages(ctx context.Context, channel, userID string) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM messages WHERE channel = ? AND user_id = ?", channel, userID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete user messages")
	}
	return result.RowsAffected()
}

func (d *DB) ClearChannelMessages(ctx context.Context, channel string) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM messages WHERE channel = ?", channel)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear channel messages")
	}
	return result.RowsAffected()
}

func (d *DB) DeleteMessagesBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM messages WHERE created_ts < ?", cutoffTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old messages")
	}
	return result.RowsAffected()
}

func (d *DB) CountMessagesSince(ctx context.Context, channel string, sinceTs int64) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE channel = ? AND created_ts >= ?",
		channel, sinceTs,
	).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return n, nil
}
