// Package retry runs an operation again after transient failures, waiting
// an exponentially growing, capped delay between tries.
package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	Attempts  uint          // total tries, including the first
	BaseDelay time.Duration // delay before the first retry
	MaxDelay  time.Duration // cap on any single delay
}

// DefaultPolicy returns 3 attempts with delays of 1s then 2s, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	}
}

// Backoff returns the delay before retry n (0 = the first retry):
// min(BaseDelay * 2^n, MaxDelay).
func (p Policy) Backoff(n uint) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := uint(0); i < n; i++ {
		d *= 2
		if d <= 0 {
			return p.MaxDelay
		}
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Scheduler executes operations under a Policy. It holds no per-call state,
// so one Scheduler can serve concurrent callers.
type Scheduler struct {
	policy Policy
	log    *logging.Logger
}

// New creates a scheduler. Attempts below 1 are raised to 1.
func New(p Policy, log *logging.Logger) *Scheduler {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if log == nil {
		log = logging.GetDefault().Component("retry")
	}
	return &Scheduler{policy: p, log: log}
}

// Policy returns the scheduler's policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Do runs op until it succeeds, fails with an error isRetryable rejects, or
// the attempts run out. The error returned is op's last error, or ctx's error
// if ctx ended while waiting between tries.
func (s *Scheduler) Do(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool) error {
	return retry.Do(
		func() error { return op(ctx) },
		retry.Context(ctx),
		retry.Attempts(s.policy.Attempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return s.policy.Backoff(n)
		}),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < s.policy.Attempts {
				s.log.Debug("Retrying after transient failure", "attempt", n+1, "delay", s.policy.Backoff(n), "error", err)
			}
		}),
	)
}
