package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy defines a bounded exponential backoff schedule. Every readiness
// poll in the orchestrator goes through Do with a policy; there are no
// unbounded sleep loops.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsed      time.Duration // 0 means bounded only by ctx
	Jitter          float64       // fraction of the interval, 0..1
}

// DefaultPolicy suits service-startup style waits: quick first probes,
// capped at 15s between attempts, give up after 10 minutes.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		Multiplier:      1.5,
		MaxElapsed:      10 * time.Minute,
		Jitter:          0.2,
	}
}

// ReplicationPolicy suits directory convergence waits, which can take
// considerably longer than a service start.
func ReplicationPolicy() Policy {
	return Policy{
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      1.5,
		MaxElapsed:      30 * time.Minute,
		Jitter:          0.2,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. Do returns it immediately,
// distinguishing "will never succeed" from "not ready yet".
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op until it succeeds, returns a permanent error, the policy's
// elapsed budget is spent, or ctx is cancelled.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	start := time.Now()
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return wrapExhausted(err, lastErr)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}

		if policy.MaxElapsed > 0 && time.Since(start)+interval > policy.MaxElapsed {
			return fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return wrapExhausted(ctx.Err(), lastErr)
		case <-time.After(jittered(interval, policy.Jitter)):
		}

		interval = next(interval, policy)
	}
}

func next(interval time.Duration, policy Policy) time.Duration {
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	interval = time.Duration(float64(interval) * multiplier)
	if policy.MaxInterval > 0 && interval > policy.MaxInterval {
		interval = policy.MaxInterval
	}
	return interval
}

func jittered(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	delta := float64(interval) * jitter
	return interval + time.Duration((rand.Float64()*2-1)*delta)
}

func wrapExhausted(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
}
