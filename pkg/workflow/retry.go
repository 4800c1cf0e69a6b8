package workflow

import "time"

// RetryPolicy bounds how often a failed continuation resume is retried and
// how far apart the attempts are scheduled. It only applies to resume
// infrastructure failures; a node execution failure fails the run immediately
// and is never retried automatically.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches the sweep cadence: a handful of attempts a few
// minutes apart, then fail-stop.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     5 * time.Minute,
}

// Exhausted reports whether the given attempt count has consumed the policy.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// ClaimTimeout is how long a claimed continuation may sit in running before
// the sweep assumes the claiming process died and requeues it. Several
// backoff intervals, so a slow-but-alive resume is never stolen.
func (p RetryPolicy) ClaimTimeout() time.Duration {
	return 4 * p.Backoff
}
