package ollama

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceHealthDegradesThenUnavailable(t *testing.T) {
	h := NewServiceHealth(3, time.Minute)
	assert.Equal(t, StateHealthy, h.State())
	assert.True(t, h.IsAvailable())

	h.RecordFailure()
	assert.Equal(t, StateDegraded, h.State())
	assert.True(t, h.IsAvailable())

	h.RecordFailure()
	assert.Equal(t, StateDegraded, h.State())

	h.RecordFailure()
	assert.Equal(t, StateUnavailable, h.State())
	assert.False(t, h.IsAvailable())
	assert.Equal(t, 3, h.ConsecutiveFailures())
}

func TestServiceHealthSuccessResets(t *testing.T) {
	h := NewServiceHealth(3, time.Minute)
	h.RecordFailure()
	h.RecordFailure()

	h.RecordSuccess()
	assert.Equal(t, StateHealthy, h.State())
	assert.Equal(t, 0, h.ConsecutiveFailures())
}

func TestServiceHealthRecoveryAdmitsProbe(t *testing.T) {
	h := NewServiceHealth(3, 10*time.Millisecond)
	for i := 0; i < 3; i++ {
		h.RecordFailure()
	}
	assert.False(t, h.IsAvailable())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.IsAvailable(), "recovery timeout elapsed, probe traffic admitted")
	assert.Equal(t, StateRecovering, h.State())

	// A failed probe drops straight back to unavailable.
	h.RecordFailure()
	assert.Equal(t, StateUnavailable, h.State())
	assert.False(t, h.IsAvailable())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.IsAvailable())
	h.RecordSuccess()
	assert.Equal(t, StateHealthy, h.State())
}

func TestServiceStateString(t *testing.T) {
	assert.Equal(t, "healthy", StateHealthy.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "unavailable", StateUnavailable.String())
	assert.Equal(t, "recovering", StateRecovering.String())
}
