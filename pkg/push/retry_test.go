package push

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffGrowth(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for attempt, want := range expected {
		delay, retry := r.NextDelay(attempt, nil)
		require.True(t, retry)
		assert.Equal(t, want, delay, "attempt %d", attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	r := NewExponentialBackoffRetryer()

	for i := 0; i < 50; i++ {
		delay, retry := r.NextDelay(2, nil)
		require.True(t, retry)
		// 4s nominal with 30% jitter.
		assert.GreaterOrEqual(t, delay, 2800*time.Millisecond)
		assert.LessOrEqual(t, delay, 5200*time.Millisecond)
	}
}

func TestExponentialBackoffMaxRetries(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxRetries:   3,
	}

	_, retry := r.NextDelay(2, errors.New("dial refused"))
	assert.True(t, retry)
	_, retry = r.NextDelay(3, errors.New("dial refused"))
	assert.False(t, retry, "attempts past MaxRetries must stop")
}

func TestFixedDelayRetryer(t *testing.T) {
	r := NewFixedDelayRetryer(5*time.Millisecond, 2)

	delay, retry := r.NextDelay(0, nil)
	require.True(t, retry)
	assert.Equal(t, 5*time.Millisecond, delay)

	delay, retry = r.NextDelay(1, nil)
	require.True(t, retry)
	assert.Equal(t, 5*time.Millisecond, delay)

	_, retry = r.NextDelay(2, nil)
	assert.False(t, retry)
}
