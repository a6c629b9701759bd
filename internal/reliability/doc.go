// Package reliability provides the waiting strategies used when polling for task
// results.
//
// A result poll never blocks, so callers that want to wait run a loop around it. This
// package supplies that loop (Poll) and the policies that pace it:
//   - ExponentialBackoff: growing delay between polls, capped, with optional jitter
//   - FixedDelay: constant delay between polls
//
// Example usage:
//
//	policy := NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 1.5, 50)
//	err := Poll(ctx, policy, func(ctx context.Context) (bool, error) {
//	    res, err := conn.FetchResult(ctx, ...)
//	    return res.Ready(), err
//	})
package reliability
