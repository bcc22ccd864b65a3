package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/persistence"
)

type fakeAccount struct {
	equity  float64
	balance float64
}

func (f *fakeAccount) read() (float64, float64, error) {
	return f.equity, f.balance, nil
}

func newTestBreaker(t *testing.T, store persistence.Store, acct *fakeAccount) *Breaker {
	t.Helper()
	b, err := New(Config{
		Enabled:             true,
		DailyThresholdPct:   4.0,
		OverallThresholdPct: 10.0,
		CooldownHours:       24,
	}, store, "acc1", acct.read)
	require.NoError(t, err)
	return b
}

// TestBreaker_TripsOnDailyDrawdown tests the canonical halt: equity 10,000
// dropping to 9,600 against a 4% daily threshold.
func TestBreaker_TripsOnDailyDrawdown(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	var stopReason string
	b.OnStopped = func(reason string) { stopReason = reason }

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))
	assert.False(t, b.Stopped())

	acct.equity = 9600
	require.NoError(t, b.Evaluate(now.Add(time.Minute)))
	assert.True(t, b.Stopped())
	assert.Contains(t, stopReason, "daily drawdown")

	// stopStartedAt is persisted.
	startedAt, found, err := store.GetInt64("acc1", "cb:stop_started_at")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, now.Add(time.Minute).Unix(), startedAt)
}

// TestBreaker_BoundaryInclusive tests that exactly reaching the threshold trips
func TestBreaker_BoundaryInclusive(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))

	acct.equity = 9600 // exactly 4.0%
	require.NoError(t, b.Evaluate(now.Add(time.Minute)))
	assert.True(t, b.Stopped())
}

// TestBreaker_NoRetriggerWhileStopped tests that deeper drawdowns while
// stopped do not fire a second alert
func TestBreaker_NoRetriggerWhileStopped(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	alerts := 0
	b.OnStopped = func(string) { alerts++ }

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))
	acct.equity = 9500
	require.NoError(t, b.Evaluate(now.Add(time.Minute)))
	acct.equity = 9000
	require.NoError(t, b.Evaluate(now.Add(2*time.Minute)))
	require.NoError(t, b.Evaluate(now.Add(3*time.Minute)))

	assert.Equal(t, 1, alerts)
	assert.True(t, b.Stopped())
}

// TestBreaker_ResumesAfterCooldown tests the Stopped -> Normal transition
// with a one-time resumed callback
func TestBreaker_ResumesAfterCooldown(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	resumes := 0
	b.OnResumed = func() { resumes++ }

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))
	acct.equity = 9500
	require.NoError(t, b.Evaluate(now.Add(time.Minute)))
	require.True(t, b.Stopped())

	// Still inside the cooldown.
	require.NoError(t, b.Evaluate(now.Add(12*time.Hour)))
	assert.True(t, b.Stopped())

	require.NoError(t, b.Evaluate(now.Add(25*time.Hour)))
	assert.False(t, b.Stopped())
	assert.Equal(t, 1, resumes)
}

// TestBreaker_BoundaryHoldsUnderRounding tests a drawdown whose float
// representation lands one ulp under the threshold: 9610*0.96 computes a
// drawdown of 3.9999999999999996%, which must still count as 4%.
func TestBreaker_BoundaryHoldsUnderRounding(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 9610, balance: 9610}
	b := newTestBreaker(t, store, acct)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))
	require.False(t, b.Stopped())

	acct.equity = 9610 * 0.96
	require.NoError(t, b.Evaluate(now.Add(time.Minute)))
	assert.True(t, b.Stopped())
}

// TestBreaker_DailyHighResetsOnNewDay tests the calendar day rollover
func TestBreaker_DailyHighResetsOnNewDay(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	day1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(day1))

	// Drop 3.9% on day one, no trip.
	acct.equity = 9610
	require.NoError(t, b.Evaluate(day1.Add(time.Hour)))
	require.False(t, b.Stopped())

	// New day rebases the high to 9,610; the same equity is now 0% daily.
	day2 := day1.Add(24 * time.Hour)
	require.NoError(t, b.Evaluate(day2))
	assert.False(t, b.Stopped())

	// A further 4% from the new high trips.
	acct.equity = 9610 * 0.96
	require.NoError(t, b.Evaluate(day2.Add(time.Hour)))
	assert.True(t, b.Stopped())
}

// TestBreaker_OverallDrawdown tests the baseline threshold
func TestBreaker_OverallDrawdown(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	day := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(day))

	// Bleed under the daily threshold across days until the overall 10%
	// threshold is crossed.
	equities := []float64{9700, 9400, 9100, 8900}
	for i, e := range equities {
		acct.equity = e
		require.NoError(t, b.Evaluate(day.Add(time.Duration(i+1)*24*time.Hour)))
	}
	assert.True(t, b.Stopped())
}

// TestBreaker_StateSurvivesRestart tests that a new breaker over the same
// store resumes the halt window
func TestBreaker_StateSurvivesRestart(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))
	acct.equity = 9500
	require.NoError(t, b.Evaluate(now.Add(time.Minute)))
	require.True(t, b.Stopped())

	restarted := newTestBreaker(t, store, acct)
	assert.True(t, restarted.Stopped())

	// And it still resumes once the original window elapses.
	require.NoError(t, restarted.Evaluate(now.Add(25*time.Hour)))
	assert.False(t, restarted.Stopped())
}

// TestBreaker_AllowGatesAndReevaluates tests the notification gate path
func TestBreaker_AllowGatesAndReevaluates(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))
	assert.True(t, b.Allow())

	acct.equity = 9500
	// The gate itself detects the breach.
	assert.False(t, b.Allow())
}

// TestBreaker_Rebaseline tests the manual baseline reset
func TestBreaker_Rebaseline(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b := newTestBreaker(t, store, acct)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Evaluate(now))

	require.NoError(t, b.Rebaseline(20000))
	v, found, err := store.GetFloat64("acc1", "cb:initial_balance_baseline")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 20000.0, v)
}

// TestBreaker_DisabledNeverTrips tests the enabled flag
func TestBreaker_DisabledNeverTrips(t *testing.T) {
	store := persistence.NewMemoryStore()
	acct := &fakeAccount{equity: 10000, balance: 10000}
	b, err := New(Config{Enabled: false, DailyThresholdPct: 4}, store, "acc1", acct.read)
	require.NoError(t, err)

	acct.equity = 5000
	require.NoError(t, b.Tick(time.Now()))
	assert.False(t, b.Stopped())
	assert.True(t, b.Allow())
}
