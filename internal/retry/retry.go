// Package retry drives bounded retries of network-facing operations.
//
// An operation reports its outcome as a Result instead of panicking or
// returning a bare error, so the driver can tell a transient fault (consume
// budget, pause, try again) from a definitive outcome (stop now, whatever
// the budget says).
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

type Kind int

const (
	KindOK Kind = iota
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one attempt.
type Result[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

func OK[T any](v T) Result[T] {
	return Result[T]{Kind: KindOK, Value: v}
}

func Retryable[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("unspecified transient failure")
	}
	return Result[T]{Kind: KindRetryable, Err: err}
}

// Fatal ends the retry loop immediately with v. err may be nil for a
// definitive negative that is not an error (an ineligible wallet, say).
func Fatal[T any](v T, err error) Result[T] {
	return Result[T]{Kind: KindFatal, Value: v, Err: err}
}

var ErrExhausted = errors.New("retry attempts exhausted")

type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Policy struct {
	// MaxAttempts <= 0 retries until ctx is cancelled.
	MaxAttempts int
	PauseMin    time.Duration
	PauseMax    time.Duration
	Sleep       SleepFunc
	OnRetry     func(attempt int, err error, pause time.Duration)
}

func (p Policy) Pause() time.Duration {
	return RandomDuration(p.PauseMin, p.PauseMax)
}

// Do runs op until it returns KindOK or KindFatal, or the budget runs out.
// On exhaustion it returns fallback and an error wrapping ErrExhausted and
// the last transient error.
func Do[T any](ctx context.Context, p Policy, fallback T, op func(ctx context.Context, attempt int) Result[T]) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	attempt := 0
	for p.MaxAttempts <= 0 || attempt < p.MaxAttempts {
		attempt++
		if err := ctx.Err(); err != nil {
			return fallback, err
		}

		res := op(ctx, attempt)
		switch res.Kind {
		case KindOK:
			return res.Value, nil
		case KindFatal:
			return res.Value, res.Err
		}

		lastErr = res.Err
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			break
		}

		pause := p.Pause()
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, pause)
		}
		if err := sleep(ctx, pause); err != nil {
			return fallback, err
		}
	}

	return fallback, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
}

// RandomDuration picks a uniformly random duration in [min, max] with
// one-second granularity when the range allows it.
func RandomDuration(min, max time.Duration) time.Duration {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if min == max {
		return min
	}
	step := time.Second
	if max-min < step {
		step = time.Millisecond
	}
	delta := int64((max-min)/step) + 1
	val, err := rand.Int(rand.Reader, big.NewInt(delta))
	if err != nil {
		return min
	}
	return min + time.Duration(val.Int64())*step
}
