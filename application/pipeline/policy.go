package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds how often and how patiently a failed write is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included. For
	// the batch policy it is the number of resubmissions of unprocessed items.
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay  time.Duration
	Retryable map[FailureKind]bool
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return errors.New("base delay must not be negative")
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", p.BackoffMultiplier)
	}
	return nil
}

// Delay returns BaseDelay * BackoffMultiplier^(attempt-1), capped by MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// IsRetryable reports whether a failure of the given kind may be retried.
func (p RetryPolicy) IsRetryable(kind FailureKind) bool {
	return p.Retryable[kind]
}

// Policies groups the two retry policies a pipeline runs with.
type Policies struct {
	Primary RetryPolicy
	Batch   RetryPolicy
}

// Validate checks both policies.
func (p Policies) Validate() error {
	if err := p.Primary.Validate(); err != nil {
		return fmt.Errorf("primary policy: %w", err)
	}
	if err := p.Batch.Validate(); err != nil {
		return fmt.Errorf("batch policy: %w", err)
	}
	return nil
}

// DefaultPolicies returns the production retry tuning.
func DefaultPolicies() Policies {
	return Policies{
		Primary: RetryPolicy{
			MaxAttempts:       3,
			BaseDelay:         100 * time.Millisecond,
			BackoffMultiplier: 2,
			MaxDelay:          5 * time.Second,
			Retryable: map[FailureKind]bool{
				KindDuplicateID: true,
				KindThrottled:   true,
			},
		},
		Batch: RetryPolicy{
			MaxAttempts:       3,
			BaseDelay:         100 * time.Millisecond,
			BackoffMultiplier: 2,
			MaxDelay:          5 * time.Second,
		},
	}
}
