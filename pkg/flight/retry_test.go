package flight

import (
	"testing"
	"time"
)

func TestRetryNone(t *testing.T) {
	rule := RetryNone()
	if _, ok := rule.Backoff(1, 0); ok {
		t.Fatal("none rule must never allow a retry")
	}
}

func TestRetryFixedInterval(t *testing.T) {
	rule := RetryFixedInterval(100*time.Millisecond, 3)

	// Attempts 1 and 2 may retry; attempt 3 exhausts the budget, so the
	// step runs exactly 3 times.
	for attempts := 1; attempts < 3; attempts++ {
		delay, ok := rule.Backoff(attempts, 0)
		if !ok {
			t.Fatalf("attempt %d should be allowed to retry", attempts)
		}
		if delay != 100*time.Millisecond {
			t.Fatalf("attempt %d: expected fixed delay, got %s", attempts, delay)
		}
	}
	if _, ok := rule.Backoff(3, 0); ok {
		t.Fatal("attempt 3 must exhaust a max-attempts-3 rule")
	}
}

func TestRetryCloudDefault(t *testing.T) {
	rule := RetryCloudDefault()
	delay, ok := rule.Backoff(1, 0)
	if !ok || delay != 15*time.Second {
		t.Fatalf("expected 15s delay, got %s ok=%v", delay, ok)
	}
	if _, ok := rule.Backoff(12, 0); ok {
		t.Fatal("cloud default allows at most 12 attempts")
	}
}

func TestRetryExponential(t *testing.T) {
	rule := RetryExponential(time.Second, 8*time.Second, time.Minute)

	d1, ok := rule.Backoff(1, 0)
	if !ok || d1 != time.Second {
		t.Fatalf("attempt 1: got %s ok=%v", d1, ok)
	}
	d2, ok := rule.Backoff(2, 5*time.Second)
	if !ok || d2 != 2*time.Second {
		t.Fatalf("attempt 2: got %s ok=%v", d2, ok)
	}

	// Interval caps at the max interval
	d10, ok := rule.Backoff(10, 30*time.Second)
	if !ok || d10 != 8*time.Second {
		t.Fatalf("attempt 10: expected capped interval, got %s ok=%v", d10, ok)
	}

	// Total duration ceiling ends the retries regardless of attempt count
	if _, ok := rule.Backoff(3, 2*time.Minute); ok {
		t.Fatal("elapsed beyond the ceiling must stop retries")
	}
}

func TestRetryLongSync(t *testing.T) {
	rule := RetryLongSync()
	if _, ok := rule.Backoff(1, 0); !ok {
		t.Fatal("long sync should retry early attempts")
	}
	if _, ok := rule.Backoff(50, 20*time.Minute); ok {
		t.Fatal("long sync must stop after its ceiling")
	}
}
