// Package retry runs an operation under a bounded exponential backoff
// policy.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of times the operation is run,
	// including the first attempt. Values less than one mean one attempt.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. Each following
	// wait is multiplied by Multiplier, up to MaxDelay.
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration

	// Retryable decides whether an error is worth another attempt. If it's
	// nil, every error is retried.
	Retryable func(error) bool

	// Operation names the operation in log messages.
	Operation string

	// Clock is mocked out in unit tests.
	Clock clockwork.Clock
}

// DefaultPolicy makes up to 3 attempts, waiting 1s and then 2s between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    4 * time.Second,
		Operation:   "operation",
		Clock:       clockwork.NewRealClock(),
	}
}

// Delay returns how long to wait after the given failed attempt. Attempts
// are numbered from 1.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns an error that isn't retryable, or
// the attempts are exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if attempt >= p.MaxAttempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}

		wait := p.Delay(attempt)
		log.WithError(err).WithFields(log.Fields{
			"attempt":     attempt,
			"maxAttempts": p.MaxAttempts,
			"wait":        wait,
		}).Warnf("%s failed, retrying", p.Operation)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(wait):
		}
	}
}
