package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0,
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.True(t, IsTransient(Transient(errors.New("rate limited"), 429)))
	assert.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
	assert.True(t, IsTransient(errors.New("API overloaded, try again")))

	// Permanent wins even when a transient error sits deeper in the chain.
	assert.False(t, IsTransient(Permanent(Transient(errors.New("odd"), 503))))
}

func TestIsPermanent(t *testing.T) {
	inner := errors.New("schema violation")
	assert.True(t, IsPermanent(Permanent(inner)))
	assert.False(t, IsPermanent(inner))

	var pe *PermanentError
	require.True(t, errors.As(Permanent(inner), &pe))
	assert.Equal(t, inner, pe.Unwrap())
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, RetryableStatus(code), code)
	}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	val, err := Retry(context.Background(), fastPolicy(3), "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, Transient(errors.New("overloaded"), 529)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), "test", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errors.New("invalid json"))
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := Transient(errors.New("unavailable"), 503)
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom.Err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastPolicy(5), "test", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, Transient(errors.New("slow"), 504)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0,
	}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 300*time.Millisecond, p.delay(2), "capped at MaxDelay")
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(5, 250, 10_000)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)

	// Zero values fall back to defaults.
	d := DefaultPolicy()
	p = PolicyFromConfig(0, 0, 0)
	assert.Equal(t, d.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, d.InitialDelay, p.InitialDelay)
	assert.Equal(t, d.MaxDelay, p.MaxDelay)
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, 10*time.Second)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Record(Transient(errors.New("x"), 503))
	require.NoError(t, b.Allow())
	b.Record(Transient(errors.New("x"), 503))

	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	// After cooldown a probe is allowed; success closes the breaker.
	now = now.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	b.Record(Transient(errors.New("x"), 503))
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	now = now.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(Transient(errors.New("x"), 503))
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(1, time.Second)
	for i := 0; i < 5; i++ {
		b.Record(Permanent(errors.New("bad schema")))
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}
