package ledger

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy is an explicit, inspectable retry policy applied around ledger
// calls. Attempts are total calls, not re-tries after the first.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Backoff returns the delay before the given attempt (2-based: there is no
// delay before the first attempt). The delay grows exponentially, is capped
// at MaxDelay and carries proportional jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	backoff := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if max := float64(p.MaxDelay); backoff > max {
		backoff = max
	}
	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}
