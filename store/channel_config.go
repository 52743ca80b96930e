package store

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// Default per-channel settings. Applied when a channel is first seen.
const (
	DefaultMessageThreshold    = 30
	DefaultSpontaneousCooldown = 300 // seconds
	DefaultResponseCooldown    = 60  // seconds
	DefaultContextLimit        = 200
)

// Bounds for operator-tunable settings.
const (
	MinMessageThreshold    = 1
	MaxMessageThreshold    = 1000
	MinCooldownSeconds     = 0
	MaxCooldownSeconds     = 3600
	MinContextLimit        = 10
	MaxContextLimit        = 1000
)

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ChannelConfig holds the per-channel tunables plus the rolling
// spontaneous-trigger state.
type ChannelConfig struct {
	Channel             string
	MessageThreshold    int
	SpontaneousCooldown int // seconds
	ResponseCooldown    int // seconds
	ContextLimit        int
	ModelOverride       *string
	MessageCount        int
	LastSpontaneousTs   *int64
	CreatedTs           int64
	UpdatedTs           int64
}

// UpdateChannelConfig carries one or more settings changes. A non-nil
// ModelOverride pointing at "" clears the override.
type UpdateChannelConfig struct {
	Channel             string
	MessageThreshold    *int
	SpontaneousCooldown *int
	ResponseCooldown    *int
	ContextLimit        *int
	ModelOverride       *string
}

// ValidateThreshold checks the spontaneous message threshold bounds.
func ValidateThreshold(n int) error {
	if n < MinMessageThreshold || n > MaxMessageThreshold {
		return errors.Errorf("threshold must be between %d and %d", MinMessageThreshold, MaxMessageThreshold)
	}
	return nil
}

// ValidateCooldown checks cooldown bounds, shared by the spontaneous
// and the per-user response cooldowns.
func ValidateCooldown(seconds int) error {
	if seconds < MinCooldownSeconds || seconds > MaxCooldownSeconds {
		return errors.Errorf("cooldown must be between %d and %d seconds", MinCooldownSeconds, MaxCooldownSeconds)
	}
	return nil
}

// ValidateContextLimit checks the transcript slice size bounds.
func ValidateContextLimit(n int) error {
	if n < MinContextLimit || n > MaxContextLimit {
		return errors.Errorf("context limit must be between %d and %d", MinContextLimit, MaxContextLimit)
	}
	return nil
}

// ValidateModelName checks the override model name. The empty string
// is valid and means "clear the override".
func ValidateModelName(name string) error {
	if name == "" {
		return nil
	}
	if !modelNamePattern.MatchString(name) {
		return errors.New("model name may only contain letters, digits, dots, dashes and underscores")
	}
	return nil
}

func (u *UpdateChannelConfig) validate() error {
	if u.MessageThreshold != nil {
		if err := ValidateThreshold(*u.MessageThreshold); err != nil {
			return err
		}
	}
	if u.SpontaneousCooldown != nil {
		if err := ValidateCooldown(*u.SpontaneousCooldown); err != nil {
			return err
		}
	}
	if u.ResponseCooldown != nil {
		if err := ValidateCooldown(*u.ResponseCooldown); err != nil {
			return err
		}
	}
	if u.ContextLimit != nil {
		if err := ValidateContextLimit(*u.ContextLimit); err != nil {
			return err
		}
	}
	if u.ModelOverride != nil {
		if err := ValidateModelName(*u.ModelOverride); err != nil {
			return err
		}
	}
	return nil
}

// GetConfig returns the channel's configuration, creating it with
// defaults on first touch. Reads go through the in-process cache.
func (s *Store) GetConfig(ctx context.Context, channel string) (*ChannelConfig, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if cfg, ok := s.configCache[channel]; ok {
		return cfg.clone(), nil
	}

	cfg, err := s.driver.GetOrCreateChannelConfig(ctx, channel)
	if err != nil {
		return nil, err
	}
	s.configCache[channel] = cfg
	return cfg.clone(), nil
}

// UpdateConfig validates and applies settings changes, write-through
// to both the database and the cache.
func (s *Store) UpdateConfig(ctx context.Context, update *UpdateChannelConfig) (*ChannelConfig, error) {
	if err := update.validate(); err != nil {
		return nil, err
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	cfg, err := s.driver.UpdateChannelConfig(ctx, update)
	if err != nil {
		return nil, err
	}
	s.configCache[update.Channel] = cfg
	return cfg.clone(), nil
}

// IncrementMessageCount bumps the spontaneous counter and returns the
// new value.
func (s *Store) IncrementMessageCount(ctx context.Context, channel string) (int, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	count, err := s.driver.IncrementMessageCount(ctx, channel)
	if err != nil {
		return 0, err
	}
	if cfg, ok := s.configCache[channel]; ok {
		cfg.MessageCount = count
	}
	return count, nil
}

// ResetMessageCount zeroes the spontaneous counter. Used when a full
// channel clear is observed.
func (s *Store) ResetMessageCount(ctx context.Context, channel string) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.driver.ResetMessageCount(ctx, channel); err != nil {
		return err
	}
	if cfg, ok := s.configCache[channel]; ok {
		cfg.MessageCount = 0
	}
	return nil
}

// UpdateSpontaneousTimestamp stamps the last spontaneous generation
// without touching the counter.
func (s *Store) UpdateSpontaneousTimestamp(ctx context.Context, channel string) error {
	now := time.Now().Unix()

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.driver.UpdateSpontaneousTimestamp(ctx, channel, now); err != nil {
		return err
	}
	if cfg, ok := s.configCache[channel]; ok {
		cfg.LastSpontaneousTs = &now
	}
	return nil
}

// RecordSpontaneousGeneration resets the counter and stamps the
// spontaneous timestamp in one statement, so a crash cannot separate
// the two.
func (s *Store) RecordSpontaneousGeneration(ctx context.Context, channel string) error {
	now := time.Now().Unix()

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.driver.MarkSpontaneousGeneration(ctx, channel, now); err != nil {
		return err
	}
	if cfg, ok := s.configCache[channel]; ok {
		cfg.MessageCount = 0
		cfg.LastSpontaneousTs = &now
	}
	return nil
}

func (c *ChannelConfig) clone() *ChannelConfig {
	out := *c
	if c.ModelOverride != nil {
		v := *c.ModelOverride
		out.ModelOverride = &v
	}
	if c.LastSpontaneousTs != nil {
		v := *c.LastSpontaneousTs
		out.LastSpontaneousTs = &v
	}
	return &out
}
