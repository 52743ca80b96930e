package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/clankbot/clank/store"
)

// GetOrCreateChannelConfig returns the channel row, inserting the
// defaults when the channel is seen for the first time.
func (d *DB) GetOrCreateChannelConfig(ctx context.Context, channel string) (*store.ChannelConfig, error) {
	now := time.Now().Unix()
	if _, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO channel_config (
			channel, message_threshold, spontaneous_cooldown, response_cooldown,
			context_limit, message_count, created_ts, updated_ts
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		channel,
		store.DefaultMessageThreshold,
		store.DefaultSpontaneousCooldown,
		store.DefaultResponseCooldown,
		store.DefaultContextLimit,
		now, now,
	); err != nil {
		return nil, errors.Wrap(err, "failed to insert channel config")
	}
	return d.getChannelConfig(ctx, channel)
}

func (d *DB) getChannelConfig(ctx context.Context, channel string) (*store.ChannelConfig, error) {
	cfg := &store.ChannelConfig{}
	var modelOverride sql.NullString
	var lastSpontaneous sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `
		SELECT channel, message_threshold, spontaneous_cooldown, response_cooldown,
			context_limit, model_override, message_count, last_spontaneous_ts,
			created_ts, updated_ts
		FROM channel_config
		WHERE channel = ?`, channel,
	).Scan(
		&cfg.Channel,
		&cfg.MessageThreshold,
		&cfg.SpontaneousCooldown,
		&cfg.ResponseCooldown,
		&cfg.ContextLimit,
		&modelOverride,
		&cfg.MessageCount,
		&lastSpontaneous,
		&cfg.CreatedTs,
		&cfg.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to get channel config")
	}
	if modelOverride.Valid {
		cfg.ModelOverride = &modelOverride.String
	}
	if lastSpontaneous.Valid {
		cfg.LastSpontaneousTs = &lastSpontaneous.Int64
	}
	return cfg, nil
}

// UpdateChannelConfig applies the non-nil fields of update and returns
// the fresh row. A ModelOverride of "" writes NULL.
func (d *DB) UpdateChannelConfig(ctx context.Context, update *store.UpdateChannelConfig) (*store.ChannelConfig, error) {
	if _, err := d.GetOrCreateChannelConfig(ctx, update.Channel); err != nil {
		return nil, err
	}

	set, args := []string{}, []any{}
	if update.MessageThreshold != nil {
		set, args = append(set, "message_threshold = ?"), append(args, *update.MessageThreshold)
	}
	if update.SpontaneousCooldown != nil {
		set, args = append(set, "spontaneous_cooldown = ?"), append(args, *update.SpontaneousCooldown)
	}
	if update.ResponseCooldown != nil {
		set, args = append(set, "response_cooldown = ?"), append(args, *update.ResponseCooldown)
	}
	if update.ContextLimit != nil {
		set, args = append(set, "context_limit = ?"), append(args, *update.ContextLimit)
	}
	if update.ModelOverride != nil {
		if *update.ModelOverride == "" {
			set = append(set, "model_override = NULL")
		} else {
			set, args = append(set, "model_override = ?"), append(args, *update.ModelOverride)
		}
	}
	if len(set) > 0 {
		set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())
		args = append(args, update.Channel)
		stmt := "UPDATE channel_config SET " + strings.Join(set, ", ") + " WHERE channel = ?"
		if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
			return nil, errors.Wrap(err, "failed to update channel config")
		}
	}
	return d.getChannelConfig(ctx, update.Channel)
}

// IncrementMessageCount bumps the counter and reads the new value. The
// single writer connection makes increment-then-select safe.
func (d *DB) IncrementMessageCount(ctx context.Context, channel string) (int, error) {
	if _, err := d.GetOrCreateChannelConfig(ctx, channel); err != nil {
		return 0, err
	}
	if _, err := d.db.ExecContext(ctx, `
		UPDATE channel_config
		SET message_count = message_count + 1, updated_ts = ?
		WHERE channel = ?`, time.Now().Unix(), channel); err != nil {
		return 0, errors.Wrap(err, "failed to increment message count")
	}

	var count int
	if err := d.db.QueryRowContext(ctx,
		"SELECT message_count FROM channel_config WHERE channel = ?", channel,
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to read message count")
	}
	return count, nil
}

func (d *DB) ResetMessageCount(ctx context.Context, channel string) error {
	if _, err := d.db.ExecContext(ctx, `
		UPDATE channel_config
		SET message_count = 0, updated_ts = ?
		WHERE channel = ?`, time.Now().Unix(), channel); err != nil {
		return errors.Wrap(err, "failed to reset message count")
	}
	return nil
}

func (d *DB) UpdateSpontaneousTimestamp(ctx context.Context, channel string, ts int64) error {
	if _, err := d.db.ExecContext(ctx, `
		UPDATE channel_config
		SET last_spontaneous_ts = ?, updated_ts = ?
		WHERE channel = ?`, ts, time.Now().Unix(), channel); err != nil {
		return errors.Wrap(err, "failed to update spontaneous timestamp")
	}
	return nil
}

// MarkSpontaneousGeneration resets the counter and stamps the
// spontaneous timestamp in one statement.
func (d *DB) MarkSpontaneousGeneration(ctx context.Context, channel string, ts int64) error {
	if _, err := d.db.ExecContext(ctx, `
		UPDATE channel_config
		SET message_count = 0, last_spontaneous_ts = ?, updated_ts = ?
		WHERE channel = ?`, ts, time.Now().Unix(), channel); err != nil {
		return errors.Wrap(err, "failed to mark spontaneous generation")
	}
	return nil
}
