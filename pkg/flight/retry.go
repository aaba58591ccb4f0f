package flight

import (
	"math"
	"time"
)

// RetryRule decides, given the attempt count so far and the elapsed time,
// whether another attempt should be made and after what backoff. Rules are
// pure strategies with no side effects; the runner owns the sleeping.
type RetryRule interface {
	// Name identifies the rule in logs.
	Name() string

	// Backoff returns the delay before the next attempt and whether a next
	// attempt is allowed. attempts is the number of failed attempts so
	// far (>= 1); elapsed is the time since the first attempt started.
	Backoff(attempts int, elapsed time.Duration) (time.Duration, bool)
}

// none fails immediately on the first transient failure.
type none struct{}

func (none) Name() string { return "none" }

func (none) Backoff(int, time.Duration) (time.Duration, bool) { return 0, false }

// RetryNone returns the rule that never retries. Appropriate for cheap
// idempotent metadata writes where the store either works or the flight
// should compensate.
func RetryNone() RetryRule { return none{} }

// fixedInterval retries a bounded number of times at a fixed delay.
type fixedInterval struct {
	interval    time.Duration
	maxAttempts int
}

func (fixedInterval) Name() string { return "fixed_interval" }

func (r fixedInterval) Backoff(attempts int, _ time.Duration) (time.Duration, bool) {
	if attempts >= r.maxAttempts {
		return 0, false
	}
	return r.interval, true
}

// RetryFixedInterval returns a rule allowing maxAttempts total attempts
// spaced by interval.
func RetryFixedInterval(interval time.Duration, maxAttempts int) RetryRule {
	return fixedInterval{interval: interval, maxAttempts: maxAttempts}
}

// RetryCloudDefault is the default rule for cloud API calls: 12 attempts at
// 15 second spacing, tuned for the minutes-scale eventual consistency of
// provider control planes.
func RetryCloudDefault() RetryRule {
	return RetryFixedInterval(15*time.Second, 12)
}

// exponential doubles the delay up to a cap, bounded by a total-duration
// ceiling rather than an attempt count.
type exponential struct {
	initial     time.Duration
	maxInterval time.Duration
	maxDuration time.Duration
}

func (exponential) Name() string { return "exponential" }

func (r exponential) Backoff(attempts int, elapsed time.Duration) (time.Duration, bool) {
	if elapsed >= r.maxDuration {
		return 0, false
	}
	d := time.Duration(float64(r.initial) * math.Pow(2, float64(attempts-1)))
	if d > r.maxInterval {
		d = r.maxInterval
	}
	if remaining := r.maxDuration - elapsed; d > remaining {
		d = remaining
	}
	return d, true
}

// RetryExponential returns a rule with exponential backoff from initial up
// to maxInterval per wait, giving up once maxDuration has elapsed. Used for
// long-running waits such as Kubernetes namespace deletion.
func RetryExponential(initial, maxInterval, maxDuration time.Duration) RetryRule {
	return exponential{initial: initial, maxInterval: maxInterval, maxDuration: maxDuration}
}

// RetryLongSync is the preset for IAM-policy propagation steps, which are
// known to take longer than ordinary cloud mutations.
func RetryLongSync() RetryRule {
	return RetryExponential(5*time.Second, time.Minute, 15*time.Minute)
}
