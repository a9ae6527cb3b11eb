package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an exponential backoff without jitter: delay(attempt) = min(Max, Base * Factor^attempt).
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultPolicy is used for reconnecting lost subscriptions.
func DefaultPolicy() Policy {
	return Policy{
		Base:   time.Second,
		Max:    30 * time.Second,
		Factor: 1.5,
	}
}

// AnswerRetryPolicy is used when replaying queued answers.
func AnswerRetryPolicy() Policy {
	return Policy{
		Base:   time.Second,
		Max:    30 * time.Second,
		Factor: 2,
	}
}

// ExponentialBackOff returns a fresh, never-stopping backoff.ExponentialBackOff for p.
func (p Policy) ExponentialBackOff() *backoff.ExponentialBackOff {
	p = p.normalized()
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.Base),
		backoff.WithMultiplier(p.Factor),
		backoff.WithMaxInterval(p.Max),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// Delay returns the wait before the given zero-based attempt.
// The sequence is non-decreasing and never exceeds Max.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.ExponentialBackOff()
	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		next := b.NextBackOff()
		if next == delay {
			// Capped, or a factor of 1.
			break
		}
		delay = next
	}
	return delay
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if !(p.Factor >= 1) {
		p.Factor = 1
	}
	return p
}
