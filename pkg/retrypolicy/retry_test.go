package retrypolicy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/retrypolicy"
)

func TestDelayForAttempt(t *testing.T) {
	policy := retrypolicy.Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		JitterRatio: 0.25,
	}.WithRand(func() float64 { return 0 })

	assert.Equal(t, 500*time.Millisecond, policy.DelayForAttempt(1))
	assert.Equal(t, time.Second, policy.DelayForAttempt(2))
	assert.Equal(t, 2*time.Second, policy.DelayForAttempt(3))
	// Cap kicks in: 500ms * 2^5 = 16s -> 8s.
	assert.Equal(t, 8*time.Second, policy.DelayForAttempt(6))

	jittered := policy.WithRand(func() float64 { return 1 })
	// Full jitter adds jitterRatio on top of the backoff.
	assert.Equal(t, 625*time.Millisecond, jittered.DelayForAttempt(1))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var slept []time.Duration
	err := retrypolicy.Do(
		func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
		func(error) bool { return true },
		retrypolicy.Default().WithRand(func() float64 { return 0 }),
		func(d time.Duration) { slept = append(slept, d) },
	)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)
}

func TestDo_ExhaustedWrapsLastCause(t *testing.T) {
	cause := errors.New("boom")
	err := retrypolicy.Do(
		func() error { return cause },
		func(error) bool { return true },
		retrypolicy.Default(),
		func(time.Duration) {},
	)
	require.Error(t, err)
	var exhausted *retrypolicy.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
}

func TestDo_StopsWhenNotRetryable(t *testing.T) {
	calls := 0
	err := retrypolicy.Do(
		func() error { calls++; return errors.New("fatal") },
		func(error) bool { return false },
		retrypolicy.Default(),
		func(time.Duration) { t.Fatal("must not sleep for non-retryable error") },
	)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	// The error reports the single attempt actually made, not the budget.
	var exhausted *retrypolicy.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
}

func TestBreaker(t *testing.T) {
	b := retrypolicy.NewBreaker("sheets", 2, 50*time.Millisecond)
	assert.True(t, b.Allow())

	b.Failure()
	assert.True(t, b.Allow())
	b.Failure()
	assert.False(t, b.Allow(), "breaker opens at the threshold")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.Allow(), "half-open after reset timeout")
	b.Success()
	assert.True(t, b.Allow())
}
