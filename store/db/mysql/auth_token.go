package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/clankbot/clank/store"
)

// GetAuthToken returns the newest credential row, or nil when none is
// stored. The singleton invariant makes "newest" the only row.
func (d *DB) GetAuthToken(ctx context.Context) (*store.AuthToken, error) {
	tok := &store.AuthToken{}
	var refreshToken, botUsername sql.NullString
	var expiresTs sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, access_token, refresh_token, expires_ts, bot_username, created_ts, updated_ts
		FROM auth_tokens
		ORDER BY created_ts DESC
		LIMIT 1`,
	).Scan(
		&tok.ID,
		&tok.AccessToken,
		&refreshToken,
		&expiresTs,
		&botUsername,
		&tok.CreatedTs,
		&tok.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get auth token")
	}
	if refreshToken.Valid {
		tok.RefreshToken = &refreshToken.String
	}
	if expiresTs.Valid {
		tok.ExpiresTs = &expiresTs.Int64
	}
	if botUsername.Valid {
		tok.BotUsername = &botUsername.String
	}
	return tok, nil
}

// ReplaceAuthToken deletes all rows then inserts the given credential,
// keeping at most one row.
func (d *DB) ReplaceAuthToken(ctx context.Context, token *store.AuthToken) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM auth_tokens"); err != nil {
		return errors.Wrap(err, "failed to delete auth tokens")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_tokens (access_token, refresh_token, expires_ts, bot_username, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.AccessToken,
		token.RefreshToken,
		token.ExpiresTs,
		token.BotUsername,
		token.CreatedTs,
		token.UpdatedTs,
	); err != nil {
		return errors.Wrap(err, "failed to insert auth token")
	}
	return errors.Wrap(tx.Commit(), "failed to commit auth token replace")
}

func (d *DB) UpdateAuthToken(ctx context.Context, token *store.AuthToken) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE auth_tokens
		SET access_token = ?, refresh_token = ?, expires_ts = ?, bot_username = ?, updated_ts = ?
		ORDER BY created_ts DESC
		LIMIT 1`,
		token.AccessToken,
		token.RefreshToken,
		token.ExpiresTs,
		token.BotUsername,
		time.Now().Unix(),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to update auth token")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

func (d *DB) DeleteAuthToken(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM auth_tokens"); err != nil {
		return errors.Wrap(err, "failed to delete auth tokens")
	}
	return nil
}
