// Package resource watches process memory, disk and CPU, runs the
// scheduled retention cleanup and escalates to an emergency sweep
// when a critical threshold is crossed.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/clankbot/clank/internal/metrics"
	"github.com/clankbot/clank/store"
)

const (
	probeInterval = 30 * time.Second
	ringCapacity  = 100
)

// Level classifies a sample against the thresholds.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sample is one probe result.
type Sample struct {
	MemoryMB    float64
	DiskPercent float64
	CPUPercent  float64
	TakenAt     time.Time
}

// Thresholds are the warning/critical bounds per axis.
type Thresholds struct {
	MemoryWarningMB     float64
	MemoryCriticalMB    float64
	DiskWarningPercent  float64
	DiskCriticalPercent float64
}

// Retention is the cleanup policy in days.
type Retention struct {
	MessageDays int
	MetricDays  int
}

// CleanupStats records the outcome of the last sweep.
type CleanupStats struct {
	MessagesDeleted  int64
	MetricsDeleted   int64
	CooldownsDeleted int64
	Emergency        bool
	RanAt            time.Time
}

// Monitor probes the process every 30 seconds into a bounded ring and
// drives the retention sweeps.
type Monitor struct {
	store      *store.Store
	recorder   *metrics.Recorder
	logger     *slog.Logger
	thresholds Thresholds
	retention  Retention
	diskPath   string

	proc *process.Process
	cron *cron.Cron

	mu        sync.Mutex
	ring      []Sample
	ringNext  int
	exhausted bool
	lastSweep CleanupStats
}

func NewMonitor(st *store.Store, recorder *metrics.Recorder, thresholds Thresholds, retention Retention, logger *slog.Logger) *Monitor {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Monitor{
		store:      st,
		recorder:   recorder,
		logger:     logger,
		thresholds: thresholds,
		retention:  retention,
		diskPath:   ".",
		proc:       proc,
		ring:       make([]Sample, 0, ringCapacity),
	}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// StartCleanupSchedule runs the normal retention sweep on a fixed
// cadence via cron. Stop cancels it.
func (m *Monitor) StartCleanupSchedule(intervalMinutes int) error {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %dm", intervalMinutes)
	_, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		m.Cleanup(ctx, false)
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the cleanup schedule.
func (m *Monitor) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// IsExhausted reports whether the last probe crossed a critical
// threshold. The coordinator may use it to shed optional work.
func (m *Monitor) IsExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// LastCleanup returns the most recent sweep outcome.
func (m *Monitor) LastCleanup() CleanupStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep
}

// Samples returns a copy of the ring, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, 0, len(m.ring))
	out = append(out, m.ring[m.ringNext:]...)
	out = append(out, m.ring[:m.ringNext]...)
	return out
}

func (m *Monitor) probe(ctx context.Context) {
	sample := Sample{TakenAt: time.Now()}

	if m.proc != nil {
		if mem, err := m.proc.MemoryInfoWithContext(ctx); err == nil {
			sample.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
	}
	if usage, err := disk.UsageWithContext(ctx, m.diskPath); err == nil {
		sample.DiskPercent = usage.UsedPercent
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}

	m.recorder.Record(metrics.SystemChannel, metrics.MetricMemoryUsageMB, sample.MemoryMB)
	m.recorder.Record(metrics.SystemChannel, metrics.MetricDiskUsagePercent, sample.DiskPercent)
	m.recorder.Record(metrics.SystemChannel, metrics.MetricCPUUsagePercent, sample.CPUPercent)

	level := m.classify(sample)

	m.mu.Lock()
	if len(m.ring) < ringCapacity {
		m.ring = append(m.ring, sample)
	} else {
		m.ring[m.ringNext] = sample
	}
	m.ringNext = (m.ringNext + 1) % ringCapacity
	m.exhausted = level == LevelCritical
	m.mu.Unlock()

	switch level {
	case LevelWarning:
		m.logger.Warn("resource pressure",
			"memory_mb", int(sample.MemoryMB),
			"disk_percent", int(sample.DiskPercent))
	case LevelCritical:
		m.logger.Error("critical resource pressure, running emergency sweep",
			"memory_mb", int(sample.MemoryMB),
			"disk_percent", int(sample.DiskPercent))
		m.Cleanup(ctx, true)
	}
}

func (m *Monitor) classify(s Sample) Level {
	switch {
	case s.MemoryMB >= m.thresholds.MemoryCriticalMB || s.DiskPercent >= m.thresholds.DiskCriticalPercent:
		return LevelCritical
	case s.MemoryMB >= m.thresholds.MemoryWarningMB || s.DiskPercent >= m.thresholds.DiskWarningPercent:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Cleanup deletes rows past retention. An emergency sweep tightens
// the windows: messages to a quarter, metrics to half. Old user
// cooldowns follow the message retention.
func (m *Monitor) Cleanup(ctx context.Context, emergency bool) CleanupStats {
	messageDays := m.retention.MessageDays
	metricDays := m.retention.MetricDays
	if emergency {
		messageDays = max(1, messageDays/4)
		metricDays = max(1, metricDays/2)
	}

	stats := CleanupStats{Emergency: emergency, RanAt: time.Now()}

	var err error
	if stats.MessagesDeleted, err = m.store.CleanupOldMessages(ctx, messageDays); err != nil {
		m.logger.Warn("message cleanup failed", "err", err)
	}
	if stats.MetricsDeleted, err = m.store.CleanupOldMetrics(ctx, metricDays); err != nil {
		m.logger.Warn("metric cleanup failed", "err", err)
	}
	if stats.CooldownsDeleted, err = m.store.CleanupOldUserCooldowns(ctx, messageDays); err != nil {
		m.logger.Warn("cooldown cleanup failed", "err", err)
	}

	m.logger.Info("retention sweep finished",
		"emergency", emergency,
		"messages_deleted", stats.MessagesDeleted,
		"metrics_deleted", stats.MetricsDeleted,
		"cooldowns_deleted", stats.CooldownsDeleted)

	m.mu.Lock()
	m.lastSweep = stats
	m.mu.Unlock()
	return stats
}
