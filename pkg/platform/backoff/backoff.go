// Package backoff defines the one retry policy shared by every outbound
// caller: the sync coordinator, the scan-history appender, and any future
// integration client. Ad-hoc retry loops are not permitted elsewhere.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds an exponential backoff: capped doubling with jitter and a
// hard attempt limit.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Default returns the policy used in production: 5 attempts starting at
// 200ms, doubling up to a 5s ceiling.
func Default() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry runs op until it succeeds, returns a permanent error, the context is
// cancelled, or MaxAttempts is exhausted. MaxAttempts counts total calls to
// op, not retries after the first.
func (p Policy) Retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.MaxElapsedTime = 0 // attempt count is the only bound

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.Retry(op, b)
}

// Permanent marks err as non-retryable; Retry surfaces it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}
