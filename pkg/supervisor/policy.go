package supervisor

import "time"

// Policy is the per-stage retry/timeout/circuit-breaker tuning the
// supervisor applies. Every field has a spec-mandated default, overridable
// per stage via WithPolicy.
type Policy struct {
	MaxRetries             int
	RetryDelaySeconds       int
	BackoffMultiplier      float64
	TimeoutSeconds         int
	CircuitBreakerThreshold int
	CircuitBreakerTimeoutSec int
}

// DefaultPolicy matches the supervisor defaults fixed by the core.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:              3,
		RetryDelaySeconds:        5,
		BackoffMultiplier:        2,
		TimeoutSeconds:           300,
		CircuitBreakerThreshold:  5,
		CircuitBreakerTimeoutSec: 300,
	}
}

func (p Policy) retryDelay(attempt int) time.Duration {
	seconds := float64(p.RetryDelaySeconds)
	for i := 0; i < attempt; i++ {
		seconds *= p.BackoffMultiplier
	}
	return time.Duration(seconds * float64(time.Second))
}

func (p Policy) timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}
