// Package retry is the single retry-with-backoff helper shared by all
// source adapters. Adapters parameterize attempts and base delay here
// instead of carrying their own sleep loops.
package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffLinear waits base, 2*base, 3*base, ...
	BackoffLinear Backoff = iota
	// BackoffExponential waits base, 2*base, 4*base, ... capped at maxDelay.
	BackoffExponential
)

const maxDelay = 30 * time.Second

// Permanent wraps an error to stop retrying immediately. The wrapped
// error is returned unchanged to the caller.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Stop marks err as permanent so Do returns it without further attempts.
func Stop(err error) error {
	return &Permanent{Err: err}
}

// Do runs fn up to attempts times, sleeping between failures per the
// backoff policy. It returns nil on the first success, the last error
// when all attempts fail, and ctx.Err() when the context ends first.
func Do(ctx context.Context, attempts int, base time.Duration, policy Backoff, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		if i == attempts-1 {
			break
		}

		if err := sleep(ctx, delayFor(policy, base, i)); err != nil {
			return err
		}
	}
	return lastErr
}

func delayFor(policy Backoff, base time.Duration, attempt int) time.Duration {
	var d time.Duration
	switch policy {
	case BackoffExponential:
		d = base * time.Duration(1<<attempt)
	default:
		d = base * time.Duration(attempt+1)
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
