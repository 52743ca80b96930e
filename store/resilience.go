package store

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// Retry and breaker settings for persistence operations.
const (
	retryAttempts  = 5
	retryBaseDelay = time.Second
	retryMaxDelay  = 60 * time.Second

	breakerThreshold = 10 // consecutive failures before the circuit opens
	breakerOpenFor   = 60 * time.Second

	healthProbeInterval = 30 * time.Second
)

// HealthState describes the persistence connection as seen by the
// resilience wrapper.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthDegraded
	HealthReadOnly
	HealthUnavailable
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthReadOnly:
		return "read-only"
	case HealthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ConnectionHealth tracks consecutive failures and drives the circuit
// breaker plus the read-only degradation flag.
type ConnectionHealth struct {
	mu                  sync.Mutex
	consecutiveFailures int
	readOnly            bool
	circuitOpenedAt     time.Time
	lastFailure         time.Time
	logger              *slog.Logger
}

// NewConnectionHealth creates a health tracker.
func NewConnectionHealth(logger *slog.Logger) *ConnectionHealth {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionHealth{logger: logger}
}

// State reports the current health classification.
func (h *ConnectionHealth) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.circuitOpen() {
		return HealthUnavailable
	}
	if h.readOnly {
		return HealthReadOnly
	}
	if h.consecutiveFailures > 0 {
		return HealthDegraded
	}
	return HealthHealthy
}

// allow reports whether an operation may proceed. Writes are refused
// in read-only degradation; everything is refused while the circuit is
// open, except a single trial once the open window has elapsed
// (half-open).
func (h *ConnectionHealth) allow(write bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.circuitOpen() {
		return ErrUnavailable
	}
	if write && h.readOnly {
		return ErrReadOnly
	}
	return nil
}

// circuitOpen must be called with the lock held. Clears the opened
// stamp when the window elapsed, which admits the half-open trial.
func (h *ConnectionHealth) circuitOpen() bool {
	if h.circuitOpenedAt.IsZero() {
		return false
	}
	if time.Since(h.circuitOpenedAt) >= breakerOpenFor {
		h.circuitOpenedAt = time.Time{}
		h.logger.Info("store circuit breaker half-open, admitting trial operation")
		return false
	}
	return true
}

// recordSuccess resets failure tracking. Any successful operation
// clears read-only degradation as well.
func (h *ConnectionHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.consecutiveFailures >= breakerThreshold || h.readOnly {
		h.logger.Info("store connection recovered")
	}
	h.consecutiveFailures = 0
	h.readOnly = false
	h.circuitOpenedAt = time.Time{}
}

// recordFailure classifies the error and advances the breaker.
func (h *ConnectionHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastFailure = time.Now()

	if IsReadOnlyError(err) {
		if !h.readOnly {
			h.logger.Warn("store degraded to read-only", "error", err)
		}
		h.readOnly = true
		return
	}

	h.consecutiveFailures++
	if h.consecutiveFailures >= breakerThreshold && h.circuitOpenedAt.IsZero() {
		h.circuitOpenedAt = time.Now()
		h.logger.Error("store circuit breaker opened",
			"consecutive_failures", h.consecutiveFailures,
			"open_for", breakerOpenFor)
	}
}

// resilientDriver decorates a Driver with retries, the circuit breaker
// and read-only classification. It implements Driver itself so the
// Store facade stays dialect- and policy-agnostic.
type resilientDriver struct {
	Driver
	health *ConnectionHealth
	logger *slog.Logger
}

// NewResilientDriver wraps a dialect driver with the retry and breaker
// policy. The returned health tracker feeds the status command and the
// background probe.
func NewResilientDriver(inner Driver, logger *slog.Logger) (Driver, *ConnectionHealth) {
	if logger == nil {
		logger = slog.Default()
	}
	health := NewConnectionHealth(logger)
	return &resilientDriver{Driver: inner, health: health, logger: logger}, health
}

// jitteredBackoff spreads retries by up to ±20% around the exponential
// schedule so concurrent workers do not stampede.
func jitteredBackoff(n uint, err error, config *retry.Config) time.Duration {
	d := retry.BackOffDelay(n, err, config)
	factor := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(d) * factor)
}

// run executes op under the retry and breaker policy.
func (r *resilientDriver) run(ctx context.Context, name string, write bool, op func() error) error {
	if err := r.health.allow(write); err != nil {
		return err
	}

	err := retry.Do(
		op,
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(jitteredBackoff),
		retry.RetryIf(IsRetryable),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			// Counts every failed attempt; ten in a row open the circuit.
			r.health.recordFailure(err)
			r.logger.Warn("store operation failed", "op", name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		// Non-retryable errors skip OnRetry. Read-only failures still
		// need to flip the degradation flag; cancellations stay
		// uncounted so shutdown does not trip the breaker.
		if IsReadOnlyError(err) {
			r.health.recordFailure(err)
		}
		return &OpError{Op: name, Err: err}
	}

	r.health.recordSuccess()
	return nil
}

// RunHealthProbe issues a trivial read every probe interval until the
// context is cancelled. A successful probe resets the breaker and
// clears read-only degradation.
func RunHealthProbe(ctx context.Context, s *Store) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.Ping(probeCtx)
			cancel()
			if err != nil {
				s.logger.Warn("store health probe failed", "error", err)
			}
		}
	}
}

func (r *resilientDriver) Ping(ctx context.Context) error {
	return r.run(ctx, "ping", false, func() error {
		return r.Driver.Ping(ctx)
	})
}

func (r *resilientDriver) Migrate(ctx context.Context) error {
	return r.run(ctx, "migrate", true, func() error {
		return r.Driver.Migrate(ctx)
	})
}

func (r *resilientDriver) CreateMessage(ctx context.Context, create *Message) error {
	return r.run(ctx, "create_message", true, func() error {
		return r.Driver.CreateMessage(ctx, create)
	})
}

func (r *resilientDriver) ListRecentMessages(ctx context.Context, channel string, limit int) ([]*Message, error) {
	var out []*Message
	err := r.run(ctx, "list_recent_messages", false, func() error {
		var err error
		out, err = r.Driver.ListRecentMessages(ctx, channel, limit)
		return err
	})
	return out, err
}

func (r *resilientDriver) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	var deleted bool
	err := r.run(ctx, "delete_message", true, func() error {
		var err error
		deleted, err = r.Driver.DeleteMessage(ctx, messageID)
		return err
	})
	return deleted, err
}

func (r *resilientDriver) DeleteUserMessages(ctx context.Context, channel, userID string) (int64, error) {
	var n int64
	err := r.run(ctx, "delete_user_messages", true, func() error {
		var err error
		n, err = r.Driver.DeleteUserMessages(ctx, channel, userID)
		return err
	})
	return n, err
}

func (r *resilientDriver) ClearChannelMessages(ctx context.Context, channel string) (int64, error) {
	var n int64
	err := r.run(ctx, "clear_channel_messages", true, func() error {
		var err error
		n, err = r.Driver.ClearChannelMessages(ctx, channel)
		return err
	})
	return n, err
}

func (r *resilientDriver) DeleteMessagesBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	var n int64
	err := r.run(ctx, "delete_messages_before", true, func() error {
		var err error
		n, err = r.Driver.DeleteMessagesBefore(ctx, cutoffTs)
		return err
	})
	return n, err
}

func (r *resilientDriver) CountMessagesSince(ctx context.Context, channel string, sinceTs int64) (int, error) {
	var n int
	err := r.run(ctx, "count_messages_since", false, func() error {
		var err error
		n, err = r.Driver.CountMessagesSince(ctx, channel, sinceTs)
		return err
	})
	return n, err
}

func (r *resilientDriver) GetOrCreateChannelConfig(ctx context.Context, channel string) (*ChannelConfig, error) {
	var cfg *ChannelConfig
	err := r.run(ctx, "get_or_create_channel_config", true, func() error {
		var err error
		cfg, err = r.Driver.GetOrCreateChannelConfig(ctx, channel)
		return err
	})
	return cfg, err
}

func (r *resilientDriver) UpdateChannelConfig(ctx context.Context, update *UpdateChannelConfig) (*ChannelConfig, error) {
	var cfg *ChannelConfig
	err := r.run(ctx, "update_channel_config", true, func() error {
		var err error
		cfg, err = r.Driver.UpdateChannelConfig(ctx, update)
		return err
	})
	return cfg, err
}

func (r *resilientDriver) IncrementMessageCount(ctx context.Context, channel string) (int, error) {
	var n int
	err := r.run(ctx, "increment_message_count", true, func() error {
		var err error
		n, err = r.Driver.IncrementMessageCount(ctx, channel)
		return err
	})
	return n, err
}

func (r *resilientDriver) ResetMessageCount(ctx context.Context, channel string) error {
	return r.run(ctx, "reset_message_count", true, func() error {
		return r.Driver.ResetMessageCount(ctx, channel)
	})
}

func (r *resilientDriver) UpdateSpontaneousTimestamp(ctx context.Context, channel string, ts int64) error {
	return r.run(ctx, "update_spontaneous_timestamp", true, func() error {
		return r.Driver.UpdateSpontaneousTimestamp(ctx, channel, ts)
	})
}

func (r *resilientDriver) MarkSpontaneousGeneration(ctx context.Context, channel string, ts int64) error {
	return r.run(ctx, "mark_spontaneous_generation", true, func() error {
		return r.Driver.MarkSpontaneousGeneration(ctx, channel, ts)
	})
}

func (r *resilientDriver) GetUserLastResponse(ctx context.Context, channel, userID string) (*int64, error) {
	var ts *int64
	err := r.run(ctx, "get_user_last_response", false, func() error {
		var err error
		ts, err = r.Driver.GetUserLastResponse(ctx, channel, userID)
		return err
	})
	return ts, err
}

func (r *resilientDriver) UpsertUserResponseTimestamp(ctx context.Context, channel, userID string, ts int64) error {
	return r.run(ctx, "upsert_user_response_timestamp", true, func() error {
		return r.Driver.UpsertUserResponseTimestamp(ctx, channel, userID, ts)
	})
}

func (r *resilientDriver) DeleteUserCooldownsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	var n int64
	err := r.run(ctx, "delete_user_cooldowns_before", true, func() error {
		var err error
		n, err = r.Driver.DeleteUserCooldownsBefore(ctx, cutoffTs)
		return err
	})
	return n, err
}

func (r *resilientDriver) InsertMetrics(ctx context.Context, batch []*Metric) error {
	return r.run(ctx, "insert_metrics", true, func() error {
		return r.Driver.InsertMetrics(ctx, batch)
	})
}

func (r *resilientDriver) AggregateMetrics(ctx context.Context, channel string, sinceTs int64) ([]*MetricAggregate, error) {
	var aggs []*MetricAggregate
	err := r.run(ctx, "aggregate_metrics", false, func() error {
		var err error
		aggs, err = r.Driver.AggregateMetrics(ctx, channel, sinceTs)
		return err
	})
	return aggs, err
}

func (r *resilientDriver) DeleteMetricsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	var n int64
	err := r.run(ctx, "delete_metrics_before", true, func() error {
		var err error
		n, err = r.Driver.DeleteMetricsBefore(ctx, cutoffTs)
		return err
	})
	return n, err
}

func (r *resilientDriver) GetAuthToken(ctx context.Context) (*AuthToken, error) {
	var tok *AuthToken
	err := r.run(ctx, "get_auth_token", false, func() error {
		var err error
		tok, err = r.Driver.GetAuthToken(ctx)
		return err
	})
	return tok, err
}

func (r *resilientDriver) ReplaceAuthToken(ctx context.Context, token *AuthToken) error {
	return r.run(ctx, "replace_auth_token", true, func() error {
		return r.Driver.ReplaceAuthToken(ctx, token)
	})
}

func (r *resilientDriver) UpdateAuthToken(ctx context.Context, token *AuthToken) (bool, error) {
	var updated bool
	err := r.run(ctx, "update_auth_token", true, func() error {
		var err error
		updated, err = r.Driver.UpdateAuthToken(ctx, token)
		return err
	})
	return updated, err
}

func (r *resilientDriver) DeleteAuthToken(ctx context.Context) error {
	return r.run(ctx, "delete_auth_token", true, func() error {
		return r.Driver.DeleteAuthToken(ctx)
	})
}
