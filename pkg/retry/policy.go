package retry

import (
	"time"

	"github.com/pkg/errors"

	"github.com/qbitflow/bootstrap/pkg/retry/backoff"
)

// Policy is a declarative description of how transient failures are retried.
// It is the configurable counterpart to hand-assembled strategies.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts uint `mapstructure:"max_attempts"`

	// BaseDelay is the delay before the second attempt. Subsequent delays
	// double up to MaxDelay.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`

	// Jitter is the fraction of the delay the actual sleep may be off by.
	Jitter float64 `mapstructure:"jitter"`
}

// DefaultPolicy is the policy used against public RPC endpoints.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
	Jitter:      0.1,
}

// NoRetryPolicy performs an action exactly once.
var NoRetryPolicy = Policy{
	MaxAttempts: 1,
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts == 0 {
		return errors.New("max attempts must be at least 1")
	}
	if p.MaxAttempts > 1 && p.BaseDelay <= 0 {
		return errors.New("base delay must be positive when retrying")
	}
	if p.MaxDelay < p.BaseDelay {
		return errors.New("max delay must not be smaller than base delay")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return errors.New("jitter must be within [0, 1)")
	}
	return nil
}

// Strategies returns the strategies implementing the policy. Errors matching
// retriable are retried; when none are provided every error is retried.
func (p Policy) Strategies(retriable ...error) []Strategy {
	var strategies []Strategy
	if len(retriable) > 0 {
		strategies = append(strategies, RetriableErrors(retriable...))
	}
	strategies = append(strategies, Limit(p.MaxAttempts))
	if p.MaxAttempts > 1 {
		strategies = append(strategies, BackoffWithJitter(backoff.BinaryExponential(p.BaseDelay), p.MaxDelay, p.Jitter))
	}
	return strategies
}

// NewRetrier returns a Retrier for the policy.
func (p Policy) NewRetrier(retriable ...error) Retrier {
	return NewRetrier(p.Strategies(retriable...)...)
}
