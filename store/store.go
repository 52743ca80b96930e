package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clankbot/clank/internal/profile"
)

// Store provides persistence for transcripts, channel configuration,
// user cooldowns, auth tokens and metrics. All operations route
// through the resilience wrapper; the ChannelConfig cache is kept
// write-through under a single lock.
type Store struct {
	profile *profile.Profile
	driver  Driver
	health  *ConnectionHealth
	logger  *slog.Logger

	configMu    sync.Mutex
	configCache map[string]*ChannelConfig
}

// New wraps the dialect driver with the retry and circuit-breaker
// policy and creates the Store facade.
func New(driver Driver, profile *profile.Profile, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	resilient, health := NewResilientDriver(driver, logger)

	return &Store{
		driver:      resilient,
		profile:     profile,
		health:      health,
		logger:      logger,
		configCache: make(map[string]*ChannelConfig),
	}
}

// GetDriver exposes the wrapped driver, mainly for tests.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Health returns the connection health tracker.
func (s *Store) Health() *ConnectionHealth {
	return s.health
}

// Migrate creates the schema when missing. Fatal at startup on error.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Ping executes a trivial read through the resilience wrapper.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

// InvalidateConfigCache drops the cached config for a channel, forcing
// the next read through to the database.
func (s *Store) InvalidateConfigCache(channel string) {
	s.configMu.Lock()
	delete(s.configCache, channel)
	s.configMu.Unlock()
}

func (s *Store) Close() error {
	return s.driver.Close()
}
