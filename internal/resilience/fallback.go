package resilience

import (
	"sync"
	"time"
)

// Fallback cooldown tiers. Authentication and configuration failures cannot
// heal on their own, so they get the long cooldowns; repeated transient
// failures get the short one.
const (
	CooldownAuthentication = 5 * time.Minute
	CooldownConfiguration  = 3 * time.Minute
	CooldownConsecutive    = 1 * time.Minute
	CooldownTransient      = 30 * time.Second

	consecutiveFailureThreshold = 3
	transientFailureThreshold   = 2
)

// FallbackState is a read-only snapshot of the manager for /health.
type FallbackState struct {
	Active              bool      `json:"active"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int       `json:"total_failures"`
	FallbackUntil       time.Time `json:"fallback_until,omitempty"`
	CooldownRemaining   float64   `json:"cooldown_remaining_seconds"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// FallbackManager is the process-wide circuit breaker. One instance is owned
// by the server and injected into request handlers; every backend-call
// outcome updates it under the mutex, since many requests touch it
// concurrently.
type FallbackManager struct {
	mu sync.Mutex

	consecutiveFailures int
	transientStreak     int
	totalFailures       int
	fallbackUntil       time.Time
	lastSuccess         time.Time

	now func() time.Time // injectable clock for tests
}

func NewFallbackManager() *FallbackManager {
	return &FallbackManager{now: time.Now}
}

// RecordSuccess resets the failure counters and exits fallback mode
// immediately.
func (m *FallbackManager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures = 0
	m.transientStreak = 0
	m.fallbackUntil = time.Time{}
	m.lastSuccess = m.now()
}

// RecordFailure updates the counters for one failed backend call and arms the
// fallback window when a threshold trips. The longest applicable cooldown
// wins.
func (m *FallbackManager) RecordFailure(c Classification) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	m.totalFailures++

	if c.Kind == KindTransient {
		m.transientStreak++
	} else {
		m.transientStreak = 0
	}

	var cooldown time.Duration

	switch c.Kind {
	case KindAuthentication:
		cooldown = CooldownAuthentication
	case KindConfiguration:
		cooldown = CooldownConfiguration
	}

	if m.consecutiveFailures >= consecutiveFailureThreshold && cooldown < CooldownConsecutive {
		cooldown = CooldownConsecutive
	}

	if m.transientStreak >= transientFailureThreshold && cooldown < CooldownTransient {
		cooldown = CooldownTransient
	}

	if cooldown > 0 {
		until := m.now().Add(cooldown)
		if until.After(m.fallbackUntil) {
			m.fallbackUntil = until
		}
	}
}

// Active reports whether the gateway is inside a fallback window. While
// active, backend calls are skipped entirely and a templated degraded
// response is served instead.
func (m *FallbackManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fallbackUntil.IsZero() {
		return false
	}

	if m.now().After(m.fallbackUntil) {
		// Cooldown elapsed: leave fallback mode and allow a fresh attempt.
		m.fallbackUntil = time.Time{}
		m.consecutiveFailures = 0
		m.transientStreak = 0

		return false
	}

	return true
}

// Snapshot returns the current state for health reporting.
func (m *FallbackManager) Snapshot() FallbackState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := FallbackState{
		ConsecutiveFailures: m.consecutiveFailures,
		TotalFailures:       m.totalFailures,
		LastSuccess:         m.lastSuccess,
	}

	if !m.fallbackUntil.IsZero() && m.now().Before(m.fallbackUntil) {
		s.Active = true
		s.FallbackUntil = m.fallbackUntil
		s.CooldownRemaining = m.fallbackUntil.Sub(m.now()).Seconds()
	}

	return s
}

// SetClock replaces the manager's clock. Test hook.
func (m *FallbackManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
