package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for the database dialects. Both the embedded
// SQLite driver and the networked MySQL driver implement it; the Store
// facade and the resilience wrapper are dialect-agnostic.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema when it does not exist yet.
	Migrate(ctx context.Context) error

	// Ping executes a trivial read. Used by the health probe.
	Ping(ctx context.Context) error

	// Message operations.
	CreateMessage(ctx context.Context, create *Message) error
	ListRecentMessages(ctx context.Context, channel string, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
	DeleteUserMessages(ctx context.Context, channel, userID string) (int64, error)
	ClearChannelMessages(ctx context.Context, channel string) (int64, error)
	DeleteMessagesBefore(ctx context.Context, cutoffTs int64) (int64, error)
	CountMessagesSince(ctx context.Context, channel string, sinceTs int64) (int, error)

	// Channel config operations.
	GetOrCreateChannelConfig(ctx context.Context, channel string) (*ChannelConfig, error)
	UpdateChannelConfig(ctx context.Context, update *UpdateChannelConfig) (*ChannelConfig, error)
	IncrementMessageCount(ctx context.Context, channel string) (int, error)
	ResetMessageCount(ctx context.Context, channel string) error
	UpdateSpontaneousTimestamp(ctx context.Context, channel string, ts int64) error
	MarkSpontaneousGeneration(ctx context.Context, channel string, ts int64) error

	// Per-user response cooldown operations.
	GetUserLastResponse(ctx context.Context, channel, userID string) (*int64, error)
	UpsertUserResponseTimestamp(ctx context.Context, channel, userID string, ts int64) error
	DeleteUserCooldownsBefore(ctx context.Context, cutoffTs int64) (int64, error)

	// Metric operations.
	InsertMetrics(ctx context.Context, batch []*Metric) error
	AggregateMetrics(ctx context.Context, channel string, sinceTs int64) ([]*MetricAggregate, error)
	DeleteMetricsBefore(ctx context.Context, cutoffTs int64) (int64, error)

	// Auth token operations. The token row is a singleton.
	GetAuthToken(ctx context.Context) (*AuthToken, error)
	ReplaceAuthToken(ctx context.Context, token *AuthToken) error
	UpdateAuthToken(ctx context.Context, token *AuthToken) (bool, error)
	DeleteAuthToken(ctx context.Context) error
}
