package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager() (*FallbackManager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewFallbackManager()
	m.SetClock(clock.now)

	return m, clock
}

func transientFailure() Classification {
	return Classification{Kind: KindTransient, StatusCode: 503, Retryable: true}
}

func TestFallback_InactiveByDefault(t *testing.T) {
	m, _ := newTestManager()
	assert.False(t, m.Active())
}

func TestFallback_SingleFailureDoesNotTrip(t *testing.T) {
	m, _ := newTestManager()
	m.RecordFailure(Classification{Kind: KindClientError, StatusCode: 400})

	assert.False(t, m.Active())
}

func TestFallback_AuthenticationTripsImmediately(t *testing.T) {
	m, clock := newTestManager()
	m.RecordFailure(Classification{Kind: KindAuthentication, StatusCode: 401})

	assert.True(t, m.Active())

	clock.advance(CooldownAuthentication - time.Second)
	assert.True(t, m.Active())

	clock.advance(2 * time.Second)
	assert.False(t, m.Active())
}

func TestFallback_ConfigurationTripsImmediately(t *testing.T) {
	m, clock := newTestManager()
	m.RecordFailure(Classification{Kind: KindConfiguration, StatusCode: 404})

	assert.True(t, m.Active())

	clock.advance(CooldownConfiguration + time.Second)
	assert.False(t, m.Active())
}

func TestFallback_TransientStreakTrips(t *testing.T) {
	m, clock := newTestManager()

	m.RecordFailure(transientFailure())
	assert.False(t, m.Active())

	m.RecordFailure(transientFailure())
	assert.True(t, m.Active(), "two consecutive transient failures arm the window")

	clock.advance(CooldownTransient + time.Second)
	assert.False(t, m.Active())
}

func TestFallback_ConsecutiveFailuresTrip(t *testing.T) {
	m, clock := newTestManager()

	// Client errors never trip on their own, but three in a row do.
	m.RecordFailure(Classification{Kind: KindClientError, StatusCode: 400})
	m.RecordFailure(Classification{Kind: KindClientError, StatusCode: 400})
	assert.False(t, m.Active())

	m.RecordFailure(Classification{Kind: KindClientError, StatusCode: 400})
	assert.True(t, m.Active())

	clock.advance(CooldownConsecutive + time.Second)
	assert.False(t, m.Active())
}

func TestFallback_SuccessResetsImmediately(t *testing.T) {
	m, _ := newTestManager()

	m.RecordFailure(Classification{Kind: KindAuthentication, StatusCode: 401})
	assert.True(t, m.Active())

	m.RecordSuccess()
	assert.False(t, m.Active())

	s := m.Snapshot()
	assert.Zero(t, s.ConsecutiveFailures)
	assert.False(t, s.Active)
}

func TestFallback_LongestCooldownWins(t *testing.T) {
	m, clock := newTestManager()

	m.RecordFailure(transientFailure())
	m.RecordFailure(transientFailure())
	m.RecordFailure(Classification{Kind: KindAuthentication, StatusCode: 401})

	clock.advance(CooldownConsecutive + time.Second)
	assert.True(t, m.Active(), "authentication cooldown outlasts the consecutive one")
}

func TestFallback_Snapshot(t *testing.T) {
	m, _ := newTestManager()

	m.RecordFailure(transientFailure())
	m.RecordFailure(transientFailure())

	s := m.Snapshot()
	assert.True(t, s.Active)
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, 2, s.TotalFailures)
	assert.InDelta(t, CooldownTransient.Seconds(), s.CooldownRemaining, 1)
}
