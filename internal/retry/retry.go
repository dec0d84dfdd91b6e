package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/streetbite/lakepipe/pkg/logger"
)

// Policy is a bounded retry schedule for transient failures. It is passed
// into the extract and write stages explicitly so the schedule can be
// tuned per deployment and exercised in tests.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Default returns the schedule used when the config file does not set one.
func Default() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff. retryable decides whether an error is worth another
// attempt; nil means every error is. A non-retryable error is returned as
// is; exhausting the schedule wraps the last error with the attempt count.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, attempts, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = p.next(backoff)
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, err)
}

func (p Policy) next(backoff time.Duration) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	next := time.Duration(float64(backoff) * m)
	if p.MaxBackoff > 0 && next > p.MaxBackoff {
		next = p.MaxBackoff
	}
	return next
}
