package resilience

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_StaysClosedUnderThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	failure := eris.New("boom")

	b.Record(failure)
	b.Record(failure)
	require.NoError(t, b.Allow())
	assert.True(t, b.Healthy())
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	failure := eris.New("boom")

	for i := 0; i < 3; i++ {
		b.Record(failure)
	}
	assert.False(t, b.Healthy())
	assert.ErrorIs(t, b.Allow(), ErrSourceUnhealthy)
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	failure := eris.New("boom")

	b.Record(failure)
	b.Record(failure)
	b.Record(nil)
	b.Record(failure)
	require.NoError(t, b.Allow())
	assert.True(t, b.Healthy())
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	failure := eris.New("boom")
	b.Record(failure)
	b.Record(failure)
	require.ErrorIs(t, b.Allow(), ErrSourceUnhealthy)

	// Cooldown elapsed: exactly one probe goes through.
	now = now.Add(61 * time.Second)
	require.NoError(t, b.Allow())
	require.ErrorIs(t, b.Allow(), ErrSourceUnhealthy)

	// A successful probe closes the breaker.
	b.Record(nil)
	require.NoError(t, b.Allow())
	assert.True(t, b.Healthy())
}

func TestBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	failure := eris.New("boom")
	b.Record(failure)
	b.Record(failure)

	now = now.Add(61 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(failure)

	require.ErrorIs(t, b.Allow(), ErrSourceUnhealthy)
	now = now.Add(61 * time.Second)
	require.NoError(t, b.Allow())
}
