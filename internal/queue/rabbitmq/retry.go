package rabbitmq

import (
	"math"
	"time"
)

// RetryPolicy controls redelivery of failed jobs. The shape follows the usual
// workflow-engine retry policy.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	// MaximumAttempts counts the first delivery. Values below 1 mean 1.
	MaximumAttempts int
}

// DefaultRetryPolicy makes five attempts spread over about fifteen seconds.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval:    time.Second,
	BackoffCoefficient: 2,
	MaximumInterval:    5 * time.Minute,
	MaximumAttempts:    5,
}

// Backoff returns the delay before the attempt that follows a failed attempt
// number n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	coeff := p.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	d := float64(p.InitialInterval) * math.Pow(coeff, float64(n-1))
	if p.MaximumInterval > 0 && d > float64(p.MaximumInterval) {
		return p.MaximumInterval
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt n was the last one allowed.
func (p RetryPolicy) Exhausted(n int) bool {
	return n >= max(p.MaximumAttempts, 1)
}
