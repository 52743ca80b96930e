package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	// Import the MySQL driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/store"
)

// connection pool size for the networked store
const maxOpenConns = 5

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB connects to the MySQL server named by the profile, creating
// the database on first connect.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.MySQLHost == "" || profile.MySQLUser == "" || profile.MySQLDatabase == "" {
		return nil, errors.New("mysql host, user and database required")
	}

	// First connect without a database selected so a fresh server can
	// be bootstrapped.
	serverDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/?parseTime=false&charset=utf8mb4",
		profile.MySQLUser, profile.MySQLPassword, profile.MySQLHost, profile.MySQLPort)
	bootstrap, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql server connection")
	}
	if _, err := bootstrap.Exec(
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4", profile.MySQLDatabase),
	); err != nil {
		bootstrap.Close()
		return nil, errors.Wrapf(err, "failed to create database %s", profile.MySQLDatabase)
	}
	bootstrap.Close()

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=false&charset=utf8mb4",
		profile.MySQLUser, profile.MySQLPassword, profile.MySQLHost, profile.MySQLPort, profile.MySQLDatabase)
	mysqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql database")
	}

	mysqlDB.SetMaxOpenConns(maxOpenConns)
	mysqlDB.SetMaxIdleConns(maxOpenConns)
	mysqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: mysqlDB, profile: profile}, nil
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
	"CREATE TABLE IF NOT EXISTS messages (" +
		"id INT AUTO_INCREMENT PRIMARY KEY, " +
		"message_id VARCHAR(64) NOT NULL UNIQUE, " +
		"channel VARCHAR(128) NOT NULL, " +
		"user_id VARCHAR(64) NOT NULL, " +
		"user_display_name VARCHAR(128) NOT NULL, " +
		"message_content TEXT NOT NULL, " +
		"created_ts BIGINT NOT NULL, " +
		"INDEX idx_messages_channel_timestamp (channel, created_ts), " +
		"INDEX idx_messages_message_id (message_id), " +
		"INDEX idx_messages_user_id (user_id)" +
		")",
	"CREATE TABLE IF NOT EXISTS channel_config (" +
		"channel VARCHAR(128) PRIMARY KEY, " +
		"message_threshold INT NOT NULL DEFAULT 30, " +
		"spontaneous_cooldown INT NOT NULL DEFAULT 300, " +
		"response_cooldown INT NOT NULL DEFAULT 60, " +
		"context_limit INT NOT NULL DEFAULT 200, " +
		"model_override VARCHAR(128), " +
		"message_count INT NOT NULL DEFAULT 0, " +
		"last_spontaneous_ts BIGINT, " +
		"created_ts BIGINT NOT NULL, " +
		"updated_ts BIGINT NOT NULL" +
		")",
	"CREATE TABLE IF NOT EXISTS user_response_cooldowns (" +
		"id INT AUTO_INCREMENT PRIMARY KEY, " +
		"channel VARCHAR(128) NOT NULL, " +
		"user_id VARCHAR(64) NOT NULL, " +
		"last_response_ts BIGINT NOT NULL, " +
		"created_ts BIGINT NOT NULL, " +
		"updated_ts BIGINT NOT NULL, " +
		"UNIQUE KEY idx_user_cooldowns_channel_user (channel, user_id)" +
		")",
	"CREATE TABLE IF NOT EXISTS bot_metrics (" +
		"id INT AUTO_INCREMENT PRIMARY KEY, " +
		"channel VARCHAR(128) NOT NULL, " +
		"metric_type VARCHAR(64) NOT NULL, " +
		"metric_value DOUBLE NOT NULL, " +
		"created_ts BIGINT NOT NULL, " +
		"INDEX idx_bot_metrics_channel_metric_time (channel, metric_type, created_ts)" +
		")",
	"CREATE TABLE IF NOT EXISTS auth_tokens (" +
		"id INT AUTO_INCREMENT PRIMARY KEY, " +
		"access_token TEXT NOT NULL, " +
		"refresh_token TEXT, " +
		"expires_ts BIGINT, " +
		"bot_username VARCHAR(128), " +
		"created_ts BIGINT NOT NULL, " +
		"updated_ts BIGINT NOT NULL" +
		")",
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
