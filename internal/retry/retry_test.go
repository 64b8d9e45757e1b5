package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	pauses []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.pauses = append(r.pauses, d)
	return nil
}

func TestDo_TransientConsumesBudgetThenFallback(t *testing.T) {
	rec := &recordingSleep{}
	p := Policy{MaxAttempts: 3, PauseMin: time.Second, PauseMax: time.Second, Sleep: rec.sleep}

	calls := 0
	got, err := Do(context.Background(), p, false, func(_ context.Context, attempt int) Result[bool] {
		calls++
		assert.Equal(t, calls, attempt)
		return Retryable[bool](errors.New("connection reset"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.pauses)
}

func TestDo_DefinitiveNegativeShortCircuits(t *testing.T) {
	rec := &recordingSleep{}
	p := Policy{MaxAttempts: 5, Sleep: rec.sleep}
	ineligible := errors.New("wallet ineligible")

	calls := 0
	got, err := Do(context.Background(), p, true, func(context.Context, int) Result[bool] {
		calls++
		return Fatal(false, ineligible)
	})

	assert.ErrorIs(t, err, ineligible)
	assert.False(t, got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.pauses)
}

func TestDo_FatalWithoutErrorIsQuietResult(t *testing.T) {
	got, err := Do(context.Background(), Policy{MaxAttempts: 2}, true, func(context.Context, int) Result[bool] {
		return Fatal(false, nil)
	})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	rec := &recordingSleep{}
	p := Policy{MaxAttempts: 4, Sleep: rec.sleep}

	got, err := Do(context.Background(), p, "", func(_ context.Context, attempt int) Result[string] {
		if attempt < 3 {
			return Retryable[string](errors.New("502"))
		}
		return OK("token")
	})

	require.NoError(t, err)
	assert.Equal(t, "token", got)
	assert.Len(t, rec.pauses, 2)
}

func TestDo_UnboundedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Sleep: func(context.Context, time.Duration) error { return nil }}

	_, err := Do(ctx, p, 0, func(context.Context, int) Result[int] {
		calls++
		if calls == 10 {
			cancel()
		}
		return Retryable[int](errors.New("again"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, calls)
}

func TestDo_OnRetryReportsAttempt(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry:     func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) },
	}
	_, _ = Do(context.Background(), p, 0, func(context.Context, int) Result[int] {
		return Retryable[int](nil)
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRandomDuration(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := RandomDuration(2*time.Second, 5*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Equal(t, 3*time.Second, RandomDuration(3*time.Second, time.Second))
	assert.Equal(t, time.Duration(0), RandomDuration(-time.Second, 0))
}

func TestSleep_ZeroReturnsContextState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, Sleep(ctx, 0))
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
