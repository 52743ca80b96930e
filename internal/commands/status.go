package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clankbot/clank/store"
)

// status builds the single-line health report for a channel.
func (m *Manager) status(ctx context.Context, channel, user string) string {
	cfg, err := m.store.GetConfig(ctx, channel)
	if err != nil {
		m.logger.Warn("status read failed", "channel", channel, "err", err)
		return fmt.Sprintf("@%s Error retrieving status information.", user)
	}

	ollamaStatus, modelInfo, listLatency := m.inferenceStatus(ctx, cfg)

	parts := []string{
		"Ollama: " + ollamaStatus,
		"Model: " + modelInfo,
		fmt.Sprintf("Messages: %d/%d", cfg.MessageCount, cfg.MessageThreshold),
		"Cooldowns: " + m.cooldownStatus(cfg),
	}
	if listLatency >= 0 {
		parts = append(parts, fmt.Sprintf("Response: %dms", listLatency.Milliseconds()))
	}
	if perf := m.performanceStatus(ctx, channel); perf != "" {
		parts = append(parts, perf)
	}

	return fmt.Sprintf("@%s Status - %s", user, strings.Join(parts, " | "))
}

// inferenceStatus probes the model list and checks the effective
// model against it. A negative latency means the probe failed.
func (m *Manager) inferenceStatus(ctx context.Context, cfg *store.ChannelConfig) (string, string, time.Duration) {
	start := m.now()
	models, err := m.inference.ListModels(ctx)
	if err != nil {
		text := err.Error()
		if len(text) > 30 {
			text = text[:30] + "..."
		}
		return "Disconnected", "Error: " + text, -1
	}
	latency := m.now().Sub(start)

	if len(models) == 0 {
		return "Connected (no models)", "No models available", latency
	}

	current := "default"
	override := ""
	if cfg.ModelOverride != nil && *cfg.ModelOverride != "" {
		override = *cfg.ModelOverride
		current = override
	}

	if override != "" && !contains(models, override) {
		return "Connected (model issue)", fmt.Sprintf("%s (NOT FOUND) (%d available)", current, len(models)), latency
	}
	return "Connected", fmt.Sprintf("%s (%d available)", current, len(models)), latency
}

func (m *Manager) cooldownStatus(cfg *store.ChannelConfig) string {
	spont := "Spont: Ready"
	if cfg.LastSpontaneousTs != nil {
		remaining := int64(cfg.SpontaneousCooldown) - (m.now().Unix() - *cfg.LastSpontaneousTs)
		if remaining > 0 {
			spont = fmt.Sprintf("Spont: %ds", remaining)
		}
	}
	return fmt.Sprintf("%s Resp: %ds", spont, cfg.ResponseCooldown)
}

// performanceStatus condenses the last 24h of stored metrics.
func (m *Manager) performanceStatus(ctx context.Context, channel string) string {
	if m.recorder == nil {
		return ""
	}
	summary := m.recorder.Summarize(ctx, channel, 24*time.Hour)

	var parts []string
	if summary.AvgResponseTimeMs > 0 {
		parts = append(parts, fmt.Sprintf("Avg: %.1fs", summary.AvgResponseTimeMs/1000))
	}
	if rate, ok := summary.SuccessRate(); ok {
		parts = append(parts, fmt.Sprintf("Success: %.0f%%", rate*100))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Perf: " + strings.Join(parts, " ")
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
