package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned by Poll when the policy allows no further attempts
var ErrAttemptsExhausted = errors.New("poll: maximum attempts exceeded")

// PollPolicy paces a polling loop
type PollPolicy interface {
	// Next returns the delay before the attempt following attempt (0-based) and false
	// when no further attempt is allowed.
	Next(attempt int) (time.Duration, bool)
}

// ExponentialBackoff grows the delay by Multiplier after every attempt.
// MaxAttempts <= 0 means unlimited; the caller's context bounds the loop.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxAttempts,
		Jitter:          true,
	}
}

// Next implements PollPolicy
func (e *ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	if e.MaxAttempts > 0 && attempt+1 >= e.MaxAttempts {
		return 0, false
	}
	return e.NextDelay(attempt), true
}

// NextDelay calculates the delay after attempt
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15% jitter
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// FixedDelay waits the same time between attempts
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration, maxAttempts int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxAttempts,
	}
}

// Next implements PollPolicy
func (f *FixedDelay) Next(attempt int) (time.Duration, bool) {
	if f.MaxAttempts > 0 && attempt+1 >= f.MaxAttempts {
		return 0, false
	}
	return f.Delay, true
}

// DefaultPollPolicy polls quickly at first and settles at one poll per second
func DefaultPollPolicy() PollPolicy {
	return NewExponentialBackoff(50*time.Millisecond, time.Second, 1.5, 0)
}

// Poll calls fn until it reports done, returns an error, the policy gives up or ctx
// is done. Errors from fn end the loop unchanged.
func Poll(ctx context.Context, policy PollPolicy, fn func(ctx context.Context) (bool, error)) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		delay, ok := policy.Next(attempt)
		if !ok {
			return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempt+1)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
