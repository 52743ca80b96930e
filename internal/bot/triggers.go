package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/clankbot/clank/store"
)

// minContextMessages is the 24h transcript floor below which
// spontaneous generation is not attempted.
const minContextMessages = 10

// TriggerEngine evaluates the two per-channel rate gates.
type TriggerEngine struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewTriggerEngine(st *store.Store, logger *slog.Logger) *TriggerEngine {
	return &TriggerEngine{store: st, logger: logger, now: time.Now}
}

// ShouldGenerateSpontaneous reports whether the channel qualifies for
// an unprompted message: count at threshold, cooldown elapsed and an
// adequate 24h transcript. The channel config is returned for reuse
// by the caller.
func (t *TriggerEngine) ShouldGenerateSpontaneous(ctx context.Context, channel string) (bool, *store.ChannelConfig, error) {
	cfg, err := t.store.GetConfig(ctx, channel)
	if err != nil {
		return false, nil, err
	}

	if cfg.MessageCount < cfg.MessageThreshold {
		return false, cfg, nil
	}

	if cfg.LastSpontaneousTs != nil {
		elapsed := t.now().Unix() - *cfg.LastSpontaneousTs
		if elapsed < int64(cfg.SpontaneousCooldown) {
			t.logger.Debug("spontaneous generation blocked by cooldown",
				"channel", channel,
				"remaining_s", int64(cfg.SpontaneousCooldown)-elapsed)
			return false, cfg, nil
		}
	}

	if available := t.store.CountRecentMessages(ctx, channel, 24*time.Hour); available < minContextMessages {
		t.logger.Debug("spontaneous generation blocked by thin transcript",
			"channel", channel,
			"available", available,
			"required", minContextMessages)
		return false, cfg, nil
	}

	return true, cfg, nil
}

// CanRespondToMention reports whether the per-user response cooldown
// has elapsed for (channel, user).
func (t *TriggerEngine) CanRespondToMention(ctx context.Context, channel, userID string) (bool, error) {
	cfg, err := t.store.GetConfig(ctx, channel)
	if err != nil {
		return false, err
	}

	last, found, err := t.store.GetUserLastResponse(ctx, channel, userID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return t.now().Sub(last) >= time.Duration(cfg.ResponseCooldown)*time.Second, nil
}

// RecordSpontaneousGeneration resets the counter and stamps the
// cooldown. Called only after a successful emit.
func (t *TriggerEngine) RecordSpontaneousGeneration(ctx context.Context, channel string) error {
	return t.store.RecordSpontaneousGeneration(ctx, channel)
}

// RecordUserResponse stamps the per-user cooldown. Called only after
// a successful emit.
func (t *TriggerEngine) RecordUserResponse(ctx context.Context, channel, userID string) error {
	return t.store.UpdateUserResponseTimestamp(ctx, channel, userID)
}
