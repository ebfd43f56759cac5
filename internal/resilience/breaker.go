package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrSourceUnhealthy is returned when a breaker rejects a call because its
// source has failed too many times in a row.
var ErrSourceUnhealthy = eris.New("resilience: source marked unhealthy")

// Breaker is a per-source circuit breaker. After Threshold consecutive
// failures the source is marked unhealthy and calls are rejected until
// Cooldown elapses, at which point one probe call is allowed through.
type Breaker struct {
	// Threshold is the consecutive-failure count that trips the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long the source stays unhealthy before a probe is
	// allowed. Default: 60s.
	Cooldown time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker returns a breaker with the given threshold and cooldown; zero
// values take the defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{Threshold: threshold, Cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. While unhealthy it returns
// ErrSourceUnhealthy, except for a single probe once the cooldown passes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.Threshold {
		return nil
	}
	if b.probing {
		return ErrSourceUnhealthy
	}
	if b.now().Sub(b.openedAt) < b.Cooldown {
		return ErrSourceUnhealthy
	}
	b.probing = true
	return nil
}

// Record feeds a call outcome back into the breaker. A success resets it;
// a failure increments the consecutive count and may trip it.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.Threshold {
		b.openedAt = b.now()
	} else if b.failures > b.Threshold {
		// A failed probe restarts the cooldown.
		b.openedAt = b.now()
	}
}

// Healthy reports whether the breaker currently admits calls without probing.
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures < b.Threshold
}
