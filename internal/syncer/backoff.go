package syncer

import (
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"

	"github.com/roach88/offsync/internal/model"
)

// Default backoff bounds after consecutive transport failures.
const (
	DefaultBackoffMin = time.Second
	DefaultBackoffMax = 5 * time.Minute
)

// backoff tracks consecutive transport failures. It gates opportunistic
// triggers only; events themselves are never failed by it.
//
// Delays come from an exponential policy without jitter, doubling from min
// and capped at max. The policy never gives up.
type backoff struct {
	mu       sync.Mutex
	min, max time.Duration
	policy   *cbackoff.ExponentialBackOff
	failures int
	until    time.Time
}

// gated reports whether trigger must be skipped at now.
func (b *backoff) gated(trigger model.Trigger, now time.Time) (bool, time.Time) {
	if trigger != model.TriggerTimer && trigger != model.TriggerMutation {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.until), b.until
}

// failure records a transport failure and returns the new delay.
func (b *backoff) failure(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.policy == nil {
		b.policy = newPolicy(b.min, b.max)
	}
	b.failures++
	d := b.policy.NextBackOff()
	b.until = now.Add(d)
	return d
}

func (b *backoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.until = time.Time{}
	if b.policy != nil {
		b.policy.Reset()
	}
}

func (b *backoff) consecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func newPolicy(min, max time.Duration) *cbackoff.ExponentialBackOff {
	if min > max {
		min = max
	}
	p := cbackoff.NewExponentialBackOff()
	p.InitialInterval = min
	p.MaxInterval = max
	p.Multiplier = 2
	p.RandomizationFactor = 0
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}
