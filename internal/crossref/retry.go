package crossref

import (
	"context"
	"fmt"
	"time"
)

// Backoff is an exponential retry policy.
type Backoff struct {
	MaxAttempts int // total attempts, including the first
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration

	// Sleep waits between attempts. It defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff returns four attempts at 1s, 2s, 4s, capped at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 4,
		Initial:     time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Retry calls lookup until it returns a non-Transient outcome or attempts
// run out, and returns the last outcome and the number of attempts made.
// A rate limited attempt waits at least the server's Retry-After, capped at
// Max. A canceled context ends the loop with a Permanent outcome.
func Retry(ctx context.Context, b Backoff, lookup func(context.Context) Outcome) (Outcome, int) {
	if b.MaxAttempts < 1 {
		b.MaxAttempts = 1
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var out Outcome
	for attempt := 1; ; attempt++ {
		out = lookup(ctx)
		if out.Status != Transient || attempt >= b.MaxAttempts {
			return out, attempt
		}
		if err := sleep(ctx, b.wait(attempt, out.Err)); err != nil {
			return Outcome{Status: Permanent, Err: fmt.Errorf("%w: %v", ErrCanceled, err)}, attempt
		}
	}
}

func (b Backoff) wait(attempt int, err error) time.Duration {
	d := b.Delay(attempt)
	if !IsRateLimited(err) {
		return d
	}
	if ra := RetryAfter(err); ra > d {
		d = ra
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
