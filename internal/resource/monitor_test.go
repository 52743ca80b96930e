package resource

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clankbot/clank/internal/metrics"
	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/store"
	"github.com/clankbot/clank/store/db/sqlite"
)

func newTestMonitor(t *testing.T, retention Retention) (*Monitor, *store.Store) {
	t.Helper()
	p := &profile.Profile{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(driver, p, logger)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	thresholds := Thresholds{
		MemoryWarningMB:     400,
		MemoryCriticalMB:    500,
		DiskWarningPercent:  80,
		DiskCriticalPercent: 90,
	}
	recorder := metrics.NewRecorder(st, logger)
	return NewMonitor(st, recorder, thresholds, retention, logger), st
}

func seedMessageAt(t *testing.T, st *store.Store, id string, age time.Duration) {
	t.Helper()
	require.NoError(t, st.StoreMessage(context.Background(), &store.Message{
		MessageID:       id,
		Channel:         "#chan",
		UserID:          "u1",
		UserDisplayName: "User1",
		Content:         "hello there",
		CreatedTs:       time.Now().Add(-age).Unix(),
	}))
}

func TestClassify(t *testing.T) {
	m, _ := newTestMonitor(t, Retention{MessageDays: 30, MetricDays: 7})

	cases := []struct {
		sample Sample
		want   Level
	}{
		{Sample{MemoryMB: 100, DiskPercent: 40}, LevelOK},
		{Sample{MemoryMB: 400, DiskPercent: 40}, LevelWarning},
		{Sample{MemoryMB: 100, DiskPercent: 85}, LevelWarning},
		{Sample{MemoryMB: 500, DiskPercent: 40}, LevelCritical},
		{Sample{MemoryMB: 100, DiskPercent: 95}, LevelCritical},
		{Sample{MemoryMB: 600, DiskPercent: 95}, LevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, m.classify(tc.sample),
			"mem=%v disk=%v", tc.sample.MemoryMB, tc.sample.DiskPercent)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "ok", LevelOK.String())
	assert.Equal(t, "warning", LevelWarning.String())
	assert.Equal(t, "critical", LevelCritical.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestCleanupRetention(t *testing.T) {
	m, st := newTestMonitor(t, Retention{MessageDays: 30, MetricDays: 7})
	ctx := context.Background()

	seedMessageAt(t, st, "old", 31*24*time.Hour)
	seedMessageAt(t, st, "fresh", time.Hour)

	stats := m.Cleanup(ctx, false)
	assert.Equal(t, int64(1), stats.MessagesDeleted)
	assert.False(t, stats.Emergency)
	assert.False(t, stats.RanAt.IsZero())

	remaining := st.GetRecentMessages(ctx, "#chan", 10)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].MessageID)

	assert.Equal(t, stats, m.LastCleanup())
}

func TestCleanupEmergencyTightensWindows(t *testing.T) {
	// Emergency drops message retention from 30 to 7 days and metric
	// retention from 8 to 4 days.
	m, st := newTestMonitor(t, Retention{MessageDays: 30, MetricDays: 8})
	ctx := context.Background()

	seedMessageAt(t, st, "ten-days", 10*24*time.Hour)
	seedMessageAt(t, st, "five-days", 5*24*time.Hour)

	normal := m.Cleanup(ctx, false)
	assert.Equal(t, int64(0), normal.MessagesDeleted)

	emergency := m.Cleanup(ctx, true)
	assert.True(t, emergency.Emergency)
	assert.Equal(t, int64(1), emergency.MessagesDeleted)

	remaining := st.GetRecentMessages(ctx, "#chan", 10)
	require.Len(t, remaining, 1)
	assert.Equal(t, "five-days", remaining[0].MessageID)
}

func TestCleanupEmergencyFloorsAtOneDay(t *testing.T) {
	m, st := newTestMonitor(t, Retention{MessageDays: 2, MetricDays: 1})
	ctx := context.Background()

	// 2/4 would be zero days; the sweep must floor at one and keep
	// anything newer than that.
	seedMessageAt(t, st, "recent", 2*time.Hour)
	stats := m.Cleanup(ctx, true)
	assert.Equal(t, int64(0), stats.MessagesDeleted)
	assert.Len(t, st.GetRecentMessages(ctx, "#chan", 10), 1)
}

func TestSamplesRingOrder(t *testing.T) {
	m, _ := newTestMonitor(t, Retention{MessageDays: 30, MetricDays: 7})

	for i := 0; i < ringCapacity+5; i++ {
		sample := Sample{MemoryMB: float64(i), TakenAt: time.Now()}
		m.mu.Lock()
		if len(m.ring) < ringCapacity {
			m.ring = append(m.ring, sample)
		} else {
			m.ring[m.ringNext] = sample
		}
		m.ringNext = (m.ringNext + 1) % ringCapacity
		m.mu.Unlock()
	}

	samples := m.Samples()
	require.Len(t, samples, ringCapacity)
	assert.Equal(t, float64(5), samples[0].MemoryMB, "oldest surviving sample first")
	assert.Equal(t, float64(ringCapacity+4), samples[len(samples)-1].MemoryMB)
}

func TestCleanupSchedule(t *testing.T) {
	m, _ := newTestMonitor(t, Retention{MessageDays: 30, MetricDays: 7})
	require.NoError(t, m.StartCleanupSchedule(60))
	m.Stop()
}

func TestIsExhaustedDefaultsFalse(t *testing.T) {
	m, _ := newTestMonitor(t, Retention{MessageDays: 30, MetricDays: 7})
	assert.False(t, m.IsExhausted())
}
