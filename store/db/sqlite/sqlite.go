package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the single-file database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect with some sane settings:
	// - No foreign key constraints: explicit to prevent surprises on
	//   SQLite upgrades.
	// - busy_timeout over failing fast: a single writer plus the
	//   cleanup job can contend briefly.
	// - Journal mode set to WAL: the recommended journal mode for most
	//   applications as it prevents locking issues.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be
	//   prefixed with `_pragma=`.
	//
	// References:
	// - https://pkg.go.dev/modernc.org/sqlite#Driver.Open
	// - https://www.sqlite.org/pragma.html
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: a single connection is optimal with WAL. No lifetime or
	// idle limits for a local file.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Ping is the trivial read used by the health probe.
func (d *DB) Ping(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		channel TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_display_name TEXT NOT NULL,
		message_content TEXT NOT NULL,
		created_ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel_timestamp ON messages (channel, created_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages (message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages (user_id)`,
	`CREATE TABLE IF NOT EXISTS channel_config (
		channel TEXT PRIMARY KEY,
		message_threshold INTEGER NOT NULL DEFAULT 30,
		spontaneous_cooldown INTEGER NOT NULL DEFAULT 300,
		response_cooldown INTEGER NOT NULL DEFAULT 60,
		context_limit INTEGER NOT NULL DEFAULT 200,
		model_override TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_spontaneous_ts INTEGER,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_response_cooldowns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		user_id TEXT NOT NULL,
		last_response_ts INTEGER NOT NULL,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL,
		UNIQUE (channel, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_cooldowns_channel_user ON user_response_cooldowns (channel, user_id)`,
	`CREATE TABLE IF NOT EXISTS bot_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		metric_value REAL NOT NULL,
		created_ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_metrics_channel_metric_time ON bot_metrics (channel, metric_type, created_ts)`,
	`CREATE TABLE IF NOT EXISTS auth_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		expires_ts INTEGER,
		bot_username TEXT,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL
	)`,
}

// Migrate creates the schema. Every statement is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to create schema")
		}
	}
	return nil
}
