package twitch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clankbot/clank/internal/filter"
)

func newRunClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(cfg, nil, filter.Noop{}, logger)
}

// scriptedConn replays a fixed sequence of connect outcomes and
// records the backoff attempt passed to each delay computation.
type scriptedConn struct {
	outcomes []bool // true = connected then dropped, false = connect failed
	next     int
	attempts []int
	cancel   context.CancelFunc
}

func (s *scriptedConn) run(ctx context.Context) (bool, error) {
	if s.next >= len(s.outcomes) {
		s.cancel()
		return false, ctx.Err()
	}
	connected := s.outcomes[s.next]
	s.next++
	if connected {
		return true, errors.New("connection dropped")
	}
	return false, errors.New("connection refused")
}

func (s *scriptedConn) delay(attempt int) time.Duration {
	s.attempts = append(s.attempts, attempt)
	return 0
}

func TestRunResetsBackoffAfterConnection(t *testing.T) {
	c := newRunClient(t, Config{Channels: []string{"#chan"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two healthy sessions that drop, two straight failures, then one
	// more healthy session. Each completed connection must restart the
	// schedule at the first attempt.
	script := &scriptedConn{
		outcomes: []bool{true, true, false, false, true},
		cancel:   cancel,
	}
	c.runConn = script.run
	c.delayFn = script.delay

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int{1, 1, 2, 3, 1}, script.attempts)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRunAttemptBudgetCountsConsecutiveFailures(t *testing.T) {
	c := newRunClient(t, Config{Channels: []string{"#chan"}, MaxReconnectAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sessions that connect before dropping never consume the budget,
	// even when there are more drops than MaxReconnectAttempts.
	script := &scriptedConn{
		outcomes: []bool{true, true, true, true, true},
		cancel:   cancel,
	}
	c.runConn = script.run
	c.delayFn = script.delay

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int{1, 1, 1, 1, 1}, script.attempts)
}

func TestRunGivesUpAfterConsecutiveFailures(t *testing.T) {
	c := newRunClient(t, Config{Channels: []string{"#chan"}, MaxReconnectAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	script := &scriptedConn{
		outcomes: []bool{false, false, false, false},
		cancel:   cancel,
	}
	c.runConn = script.run
	c.delayFn = script.delay

	err := c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3")
	assert.Equal(t, StateFailed, c.State())
	// The budget trips before a fourth attempt is scheduled.
	assert.Equal(t, []int{1, 2}, script.attempts)
}
