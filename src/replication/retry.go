package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures a Retrier. The delay before attempt n+1 is
// BaseDelay * 2^(n-1), capped at MaxDelay, randomized by +/- Jitter (a
// fraction in [0,1]).
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`
	MaxDelay    time.Duration `mapstructure:"max-delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// DefaultRetryPolicy ...
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.5,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// RetryState of a Retrier.
type RetryState uint8

const (
	// Idle ...
	Idle RetryState = iota
	// Attempting ...
	Attempting
	// Succeeded ...
	Succeeded
	// Exhausted ...
	Exhausted
)

func (s RetryState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Attempting:
		return "Attempting"
	case Succeeded:
		return "Succeeded"
	case Exhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleeper is the Sleeper used outside of tests.
func ContextSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retrier runs an operation under a RetryPolicy. It moves from Idle to
// Attempting(n) and ends in Succeeded or Exhausted. A Retrier is used once.
type Retrier struct {
	policy  RetryPolicy
	sleep   Sleeper
	backoff *backoff.ExponentialBackOff

	state   RetryState
	attempt int
	delays  []time.Duration
}

// NewRetrier ...
func NewRetrier(policy RetryPolicy, sleep Sleeper) *Retrier {
	if sleep == nil {
		sleep = ContextSleeper
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{
		policy:  policy,
		sleep:   sleep,
		backoff: policy.backOff(),
		state:   Idle,
	}
}

// State ...
func (r *Retrier) State() RetryState {
	return r.state
}

// Attempt is the number of the current or last attempt, starting at 1.
func (r *Retrier) Attempt() int {
	return r.attempt
}

// Delays returns the waits observed between attempts.
func (r *Retrier) Delays() []time.Duration {
	return r.delays
}

// Run calls op until it succeeds, returns a Permanent error, or MaxAttempts is
// reached. A Permanent error is returned unwrapped. Running out of attempts
// returns a RetryLimitExceeded Err wrapping the last error.
func (r *Retrier) Run(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	if r.state != Idle {
		return fmt.Errorf("retrier already used (%s)", r.state)
	}

	for {
		r.attempt++
		r.state = Attempting

		err := op(ctx, r.attempt)
		if err == nil {
			r.state = Succeeded
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			r.state = Exhausted
			return perm.Err
		}

		if r.attempt >= r.policy.MaxAttempts {
			r.state = Exhausted
			return newErr(RetryLimitExceeded, "", err, "gave up after %d attempts", r.attempt)
		}

		delay := r.backoff.NextBackOff()
		r.delays = append(r.delays, delay)
		if serr := r.sleep(ctx, delay); serr != nil {
			r.state = Exhausted
			return newErr(Network, "", serr, "interrupted after %d attempts", r.attempt)
		}
	}
}
