// Package commands implements the in-chat !clank operator surface:
// per-channel tuning, model overrides and the status report.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/clankbot/clank/internal/metrics"
	"github.com/clankbot/clank/internal/twitch"
	"github.com/clankbot/clank/store"
)

// Emitter sends a reply line to a channel.
type Emitter interface {
	Say(ctx context.Context, channel, text string) error
}

// Inference is the slice of the model client the commands need.
type Inference interface {
	ListModels(ctx context.Context) ([]string, error)
	ValidateModel(ctx context.Context, model string) (bool, error)
}

// clearModelValues all mean "drop the override, use the global
// default".
var clearModelValues = map[string]struct{}{
	"default": {}, "global": {}, "none": {}, "": {},
}

// Manager processes operator commands. Commands never enter the
// transcript and never count toward the spontaneous threshold.
type Manager struct {
	store        *store.Store
	inference    Inference
	emitter      Emitter
	recorder     *metrics.Recorder
	logger       *slog.Logger
	defaultModel string
	now          func() time.Time
}

func NewManager(st *store.Store, inference Inference, emitter Emitter, recorder *metrics.Recorder, defaultModel string, logger *slog.Logger) *Manager {
	return &Manager{
		store:        st,
		inference:    inference,
		emitter:      emitter,
		recorder:     recorder,
		logger:       logger,
		defaultModel: defaultModel,
		now:          time.Now,
	}
}

// Handle dispatches one command event and replies to the issuer.
func (m *Manager) Handle(ctx context.Context, ev twitch.CommandEvent) {
	reply := m.process(ctx, ev)
	if reply == "" {
		return
	}
	if err := m.emitter.Say(ctx, ev.Channel, reply); err != nil {
		m.logger.Warn("command reply failed", "channel", ev.Channel, "err", err)
	}
}

func (m *Manager) process(ctx context.Context, ev twitch.CommandEvent) string {
	user := ev.DisplayName
	if user == "" {
		user = ev.UserLogin
	}

	if !isAuthorized(ev.Badges) {
		m.logger.Info("unauthorized command attempt",
			"channel", ev.Channel, "user", ev.UserLogin, "args", ev.Args)
		return fmt.Sprintf("@%s You need to be a moderator or broadcaster to use %s commands.", user, twitch.CommandPrefix)
	}

	if len(ev.Args) == 0 {
		return helpText(user)
	}

	name := strings.ToLower(ev.Args[0])
	switch name {
	case "help":
		return helpText(user)
	case "status":
		return m.status(ctx, ev.Channel, user)
	case "threshold", "spontaneous", "response", "context", "model":
		switch len(ev.Args) {
		case 1:
			return m.showSetting(ctx, ev.Channel, user, name)
		case 2:
			return m.setSetting(ctx, ev.Channel, user, name, ev.Args[1])
		default:
			return fmt.Sprintf("@%s Usage: %s %s [value]", user, twitch.CommandPrefix, name)
		}
	default:
		return helpText(user)
	}
}

// isAuthorized requires a broadcaster or moderator badge.
func isAuthorized(badges map[string]int) bool {
	if badges == nil {
		return false
	}
	_, broadcaster := badges["broadcaster"]
	_, moderator := badges["moderator"]
	return broadcaster || moderator
}

func helpText(user string) string {
	return fmt.Sprintf("@%s Available %s commands: threshold, spontaneous, response, context, model, status", user, twitch.CommandPrefix)
}

func (m *Manager) showSetting(ctx context.Context, channel, user, setting string) string {
	cfg, err := m.store.GetConfig(ctx, channel)
	if err != nil {
		m.logger.Warn("setting read failed", "channel", channel, "setting", setting, "err", err)
		return fmt.Sprintf("@%s Error retrieving %s setting.", user, setting)
	}

	switch setting {
	case "threshold":
		return fmt.Sprintf("@%s threshold: %d - messages before a spontaneous generation", user, cfg.MessageThreshold)
	case "spontaneous":
		return fmt.Sprintf("@%s spontaneous: %ds - cooldown between spontaneous messages", user, cfg.SpontaneousCooldown)
	case "response":
		return fmt.Sprintf("@%s response: %ds - per-user cooldown between responses", user, cfg.ResponseCooldown)
	case "context":
		return fmt.Sprintf("@%s context: %d - transcript messages per prompt", user, cfg.ContextLimit)
	case "model":
		if cfg.ModelOverride == nil || *cfg.ModelOverride == "" {
			return fmt.Sprintf("@%s model: default (global)", user)
		}
		return fmt.Sprintf("@%s model: %s", user, *cfg.ModelOverride)
	}
	return helpText(user)
}

func (m *Manager) setSetting(ctx context.Context, channel, user, setting, value string) string {
	update := &store.UpdateChannelConfig{Channel: channel}
	var warning string

	if setting == "model" {
		reply, ok := m.prepareModelUpdate(ctx, user, value, update)
		if !ok {
			return reply
		}
		warning = reply
	} else {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Sprintf("@%s %s must be a number", user, setting)
		}
		switch setting {
		case "threshold":
			if err := store.ValidateThreshold(n); err != nil {
				return fmt.Sprintf("@%s %s", user, err.Error())
			}
			update.MessageThreshold = &n
		case "spontaneous":
			if err := store.ValidateCooldown(n); err != nil {
				return fmt.Sprintf("@%s %s", user, err.Error())
			}
			update.SpontaneousCooldown = &n
		case "response":
			if err := store.ValidateCooldown(n); err != nil {
				return fmt.Sprintf("@%s %s", user, err.Error())
			}
			update.ResponseCooldown = &n
		case "context":
			if err := store.ValidateContextLimit(n); err != nil {
				return fmt.Sprintf("@%s %s", user, err.Error())
			}
			update.ContextLimit = &n
		}
	}

	if _, err := m.store.UpdateConfig(ctx, update); err != nil {
		m.logger.Warn("setting update failed", "channel", channel, "setting", setting, "err", err)
		return fmt.Sprintf("@%s Failed to update %s setting.", user, setting)
	}

	m.logger.Info("configuration updated via chat",
		"channel", channel, "setting", setting, "value", value, "changed_by", user)

	if warning != "" {
		return warning
	}
	if setting == "model" && update.ModelOverride != nil && *update.ModelOverride == "" {
		return fmt.Sprintf("@%s model cleared, using global default", user)
	}
	return fmt.Sprintf("@%s %s updated to: %s", user, setting, value)
}

// prepareModelUpdate validates a model change against the inference
// server. The boolean is false when the change must be rejected; a
// non-empty reply with true is a warning to use instead of the stock
// confirmation.
func (m *Manager) prepareModelUpdate(ctx context.Context, user, value string, update *store.UpdateChannelConfig) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if _, clear := clearModelValues[strings.ToLower(trimmed)]; clear {
		empty := ""
		update.ModelOverride = &empty
		return "", true
	}

	if err := store.ValidateModelName(trimmed); err != nil {
		return fmt.Sprintf("@%s %s", user, err.Error()), false
	}

	available, err := m.inference.ValidateModel(ctx, trimmed)
	if err != nil {
		// Can't reach the model list; accept the change but say so.
		update.ModelOverride = &trimmed
		return fmt.Sprintf("@%s model set to %s (validation unavailable)", user, trimmed), true
	}
	if !available {
		models, listErr := m.inference.ListModels(ctx)
		if listErr == nil && len(models) > 0 {
			if len(models) > 5 {
				models = models[:5]
			}
			return fmt.Sprintf("@%s Model %s not found. Available models: %s", user, trimmed, strings.Join(models, ", ")), false
		}
		return fmt.Sprintf("@%s Model %s not found and the model list is unavailable", user, trimmed), false
	}

	update.ModelOverride = &trimmed
	return "", true
}
