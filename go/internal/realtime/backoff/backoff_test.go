package backoff

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_DelayIsNonDecreasingAndBounded(t *testing.T) {
	policies := []Policy{
		DefaultPolicy(),
		AnswerRetryPolicy(),
		{Base: 250 * time.Millisecond, Max: 5 * time.Second, Factor: 3},
		{Base: time.Second, Max: time.Second, Factor: 2},
		{Base: 2 * time.Second, Max: 10 * time.Second, Factor: 0.5},
	}

	for _, p := range policies {
		prev := time.Duration(0)
		for attempt := 0; attempt < 200; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "attempt %d of %+v", attempt, p)
			assert.LessOrEqual(t, d, p.normalized().Max, "attempt %d of %+v", attempt, p)
			prev = d
		}
	}
}

func TestPolicy_DefaultSequence(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 2250*time.Millisecond, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(20))
	assert.Equal(t, time.Second, p.Delay(-3))
}

func TestPolicy_AnswerRetrySequence(t *testing.T) {
	p := AnswerRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 16*time.Second, p.Delay(4))
	assert.Equal(t, 30*time.Second, p.Delay(5))
}

func TestScheduler_FiresAfterDelayAndCounts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(DefaultPolicy(), clock, zerolog.Nop())

	var fired atomic.Int32
	d := s.Schedule(func() { fired.Add(1) })
	assert.Equal(t, time.Second, d)
	assert.Equal(t, 1, s.Attempts())
	assert.True(t, s.Pending())

	clock.Advance(999 * time.Millisecond)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Pending())

	d = s.Schedule(func() {})
	assert.Equal(t, 1500*time.Millisecond, d)
	assert.Equal(t, 2, s.Attempts())
}

func TestScheduler_OnlyOnePendingTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(DefaultPolicy(), clock, zerolog.Nop())

	var first, second atomic.Int32
	s.Schedule(func() { first.Add(1) })
	s.Schedule(func() { second.Add(1) })

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return first.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestScheduler_ResetZeroesAndCancels(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(DefaultPolicy(), clock, zerolog.Nop())

	var fired atomic.Int32
	s.Schedule(func() {})
	s.Schedule(func() { fired.Add(1) })
	require.Equal(t, 2, s.Attempts())

	assert.True(t, s.Reset())
	assert.Equal(t, 0, s.Attempts())
	assert.False(t, s.Pending())
	assert.False(t, s.Reset())

	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPolicy_ExponentialBackOffMatchesDelay(t *testing.T) {
	p := DefaultPolicy()
	b := p.ExponentialBackOff()
	for attempt := 0; attempt < 12; attempt++ {
		assert.Equal(t, p.Delay(attempt), b.NextBackOff(), "attempt %d", attempt)
	}

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}
