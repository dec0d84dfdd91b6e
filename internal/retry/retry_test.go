package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("still broken")
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return sentinel
	}, nil)

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel error, got %v", err)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	sentinel := errors.New("schema drift")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return sentinel
	}, func(err error) bool { return false })

	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
	if err != sentinel {
		t.Errorf("expected the original error unwrapped, got %v", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 10, InitialBackoff: time.Hour}.Do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestBackoffGrowthIsCapped(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2.0}

	b := p.InitialBackoff
	b = p.next(b)
	if b != 2*time.Second {
		t.Errorf("expected 2s after one step, got %s", b)
	}
	b = p.next(b)
	if b != 3*time.Second {
		t.Errorf("expected cap at 3s, got %s", b)
	}
	b = p.next(b)
	if b != 3*time.Second {
		t.Errorf("expected backoff to stay at cap, got %s", b)
	}
}

func TestZeroValuePolicyStillRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
}
