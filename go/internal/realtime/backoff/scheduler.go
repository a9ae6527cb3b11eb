package backoff

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Scheduler drives retries with a Policy. At most one retry is pending at a time:
// scheduling a new attempt cancels the previous timer.
type Scheduler struct {
	policy Policy
	clock  clockwork.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	attempts int
	timer    clockwork.Timer
	gen      uint64
}

// NewScheduler creates a scheduler for policy.
func NewScheduler(policy Policy, clock clockwork.Clock, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		policy: policy,
		clock:  clock,
		logger: logger,
	}
}

// Schedule arranges for fn to run after the current attempt's delay and increments the
// attempt counter. It returns the delay used.
func (s *Scheduler) Schedule(fn func()) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	delay := s.policy.Delay(s.attempts)
	s.attempts++
	s.gen++
	gen := s.gen

	s.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.gen != gen {
			// replaced or cancelled after the timer already fired
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})

	s.logger.Debug().
		Int("attempt", s.attempts).
		Dur("delay", delay).
		Msg("scheduled reconnection attempt")

	return delay
}

// Reset zeroes the attempt counter and cancels any pending attempt.
// It reports whether the counter was non-zero.
func (s *Scheduler) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	had := s.attempts > 0
	s.attempts = 0
	return had
}

// Stop cancels the pending attempt without touching the counter.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Attempts returns how many attempts have been scheduled since the last Reset.
func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Pending reports whether an attempt is waiting to fire.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}
