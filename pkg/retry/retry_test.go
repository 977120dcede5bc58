package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("address in use")

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return NonRetryable(errBusy)
	})
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)

	calls = 0
	cfg := fastConfig(5)
	cfg.RetryIf = func(err error) bool { return false }
	_ = Do(context.Background(), cfg, func() error {
		calls++
		return errBusy
	})
	assert.Equal(t, 1, calls)
}

func TestDoUnlimitedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastConfig(-1), func() error {
		calls++
		if calls == 10 {
			cancel()
		}
		return errBusy
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 10, calls)
}

func TestBackoffSequence(t *testing.T) {
	b, err := NewBackoff(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2})
	require.NoError(t, err)

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{10, 20, 40, 50, 50}, scale(got, time.Millisecond))

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())

	_, err = NewBackoff(Config{InitialDelay: time.Second, MaxDelay: time.Millisecond})
	assert.Error(t, err)
}

func scale(ds []time.Duration, unit time.Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d / unit
	}
	return out
}

func TestJitterBounds(t *testing.T) {
	b, err := NewBackoff(Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1, AddJitter: true})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
}
