package push

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long to wait before the next reconnect attempt.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based)
	// and whether to keep retrying at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful connection.
	Reset()
}

// ExponentialBackoffRetryer implements capped exponential backoff with
// jitter. The jitter spreads reconnect storms out when a server restart
// drops every client at once.
type ExponentialBackoffRetryer struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay growth.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// MaxRetries limits the number of attempts; 0 means retry forever.
	MaxRetries int

	// Jitter enables randomization of the delay.
	Jitter bool

	// JitterFactor is the maximum jitter as a fraction of the delay
	// (0.0 to 1.0).
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer with the defaults used by
// the client channel: 1s initial, 30s cap, doubling, infinite retries,
// 30% jitter.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   0,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

// NextDelay implements Retryer.
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // math/rand is fine for jitter, not security-critical
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// Reset implements Retryer.
func (r *ExponentialBackoffRetryer) Reset() {
	// No state to reset for exponential backoff.
}

// FixedDelayRetryer waits a constant delay between attempts. Used in tests
// and wherever backoff growth is unwanted.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

// NewFixedDelayRetryer returns a fixed-delay retryer.
func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

// NextDelay implements Retryer.
func (r *FixedDelayRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Reset implements Retryer.
func (r *FixedDelayRetryer) Reset() {
	// No state to reset for fixed delay.
}
