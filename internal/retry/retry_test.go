package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func captureSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func TestSucceedsAfterFailures(t *testing.T) {
	delays := captureSleeps(t)
	policy := Policy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	calls := 0
	out, err := Do(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})
	if err != nil || out != "ok" {
		t.Fatalf("got %q, %v", out, err)
	}
	if calls != 3 {
		t.Fatalf("invocations: got %d want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays: %v", *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay %d: got %v want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	delays := captureSleeps(t)
	policy := Policy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffMultiplier: 2}

	_, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		return 0, errors.New("always")
	})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("want ExhaustedError, got %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays: %v", *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay %d: got %v want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestExhaustedCarriesCauseAndCount(t *testing.T) {
	captureSleeps(t)
	cause := errors.New("remote down")
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2}

	_, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		return 0, cause
	})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("want ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts: got %d want 3", exhausted.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatal("exhausted error should unwrap to the last cause")
	}
}

func TestContextCancellationAbortsWait(t *testing.T) {
	orig := sleep
	sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { sleep = orig })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3, InitialDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("should not retry after cancellation, calls=%d", calls)
	}
}

func TestPermanentErrorStopsRetries(t *testing.T) {
	delays := captureSleeps(t)
	cause := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(cause)
	})
	if !errors.Is(err, cause) {
		t.Fatalf("want the cause back, got %v", err)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("permanent failure must not read as exhaustion")
	}
	if calls != 1 || len(*delays) != 0 {
		t.Fatalf("calls=%d delays=%v", calls, *delays)
	}
}

func TestPermanentNilIsNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestSingleAttemptPolicy(t *testing.T) {
	captureSleeps(t)
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 1}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("no")
	})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 1 || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
