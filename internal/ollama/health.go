package ollama

import (
	"sync"
	"time"
)

// ServiceState classifies the inference service as seen from this
// process.
type ServiceState int

const (
	StateHealthy ServiceState = iota
	StateDegraded
	StateUnavailable
	StateRecovering
)

func (s ServiceState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Health defaults.
const (
	defaultMaxFailures     = 3
	defaultRecoveryTimeout = 300 * time.Second
)

// ServiceHealth tracks consecutive inference failures and gates
// generation while the service is down. One failure degrades, three
// mark the service unavailable; after the recovery timeout probe
// traffic is admitted again.
type ServiceHealth struct {
	mu               sync.Mutex
	state            ServiceState
	failures         int
	maxFailures      int
	recoveryTimeout  time.Duration
	unavailableSince time.Time
}

// NewServiceHealth creates a tracker in the healthy state.
func NewServiceHealth(maxFailures int, recoveryTimeout time.Duration) *ServiceHealth {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = defaultRecoveryTimeout
	}
	return &ServiceHealth{
		state:           StateHealthy,
		maxFailures:     maxFailures,
		recoveryTimeout: recoveryTimeout,
	}
}

// RecordSuccess resets the failure counter and returns to healthy.
func (h *ServiceHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateHealthy
	h.failures = 0
	h.unavailableSince = time.Time{}
}

// RecordFailure advances the state machine by one failed operation.
func (h *ServiceHealth) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	if h.failures >= h.maxFailures {
		if h.state != StateUnavailable {
			h.unavailableSince = time.Now()
		}
		h.state = StateUnavailable
		return
	}
	h.state = StateDegraded
}

// IsAvailable reports whether generation calls may be attempted.
// Unavailable turns into recovering once the recovery timeout has
// elapsed, which admits probe traffic.
func (h *ServiceHealth) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUnavailable {
		return true
	}
	if time.Since(h.unavailableSince) >= h.recoveryTimeout {
		h.state = StateRecovering
		return true
	}
	return false
}

// State reports the current classification.
func (h *ServiceHealth) State() ServiceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ConsecutiveFailures reports the failure streak, for status output.
func (h *ServiceHealth) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}
