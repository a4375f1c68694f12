// Package kretry implements RetryPolicy from spec.md §4.4: recoverability
// classification plus capped exponential backoff, bounded by a retry count
// or by a total elapsed deadline. The backoff engine is
// github.com/cenkalti/backoff/v4, present in the retrieval pack's
// dependency graph (pulled in by you-humble-rocket-maintenance/order for
// the same purpose); recoverability classification is grounded on
// KafkaSink.java's NOT_RECOVERABLE set (spec.md §3).
package kretry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorKind names the fixed recoverability classification from spec.md §3.
type ErrorKind int

const (
	Retryable ErrorKind = iota
	InvalidTopic
	OffsetMetadataTooLarge
	RecordBatchTooLarge
	RecordTooLarge
	UnknownServer
	Serialization
	TransactionAborted
)

// Classified is an error tagged with its recoverability kind. SendError
// values returned by the broker client adapter should wrap their cause
// with Classify so Policy can make a retry decision without depending on
// broker-client-specific error types.
type Classified struct {
	Kind  ErrorKind
	Cause error
}

func (c *Classified) Error() string { return c.Cause.Error() }
func (c *Classified) Unwrap() error { return c.Cause }

// Classify wraps err with kind.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Cause: err}
}

// Recoverable reports whether err should be retried, per §3's fixed
// non-recoverable set: everything else is retryable by default.
func Recoverable(err error) bool {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind == Retryable
	}
	return true
}

const (
	initialBackoff = time.Second
	maxBackoff     = 20 * time.Second
)

// MaxRetries is the §4.4 "unbounded, deadline-bound" sentinel (matches
// kconfig.MaxRetries).
const MaxRetries = -1

// Policy applies §4.4's backoff/retry rules around a send attempt.
type Policy struct {
	retries           int64 // -1 => unbounded, deadline-bound
	deliveryTimeoutMs int
	onRetry           func()
}

// New builds a Policy. retries <= -1 selects unbounded mode bounded by
// deliveryTimeout; retries == 0 means "fail on first attempt, no retries";
// retries > 0 bounds the retry count.
func New(retries int64, deliveryTimeout time.Duration) *Policy {
	return &Policy{retries: retries, deliveryTimeoutMs: int(deliveryTimeout.Milliseconds())}
}

// OnRetry registers fn to be called once per retried attempt (i.e. not on
// the first attempt), e.g. to feed a metrics counter.
func (p *Policy) OnRetry(fn func()) { p.onRetry = fn }

// Do runs attempt, retrying on recoverable failures per §4.4, and returns
// the final error (nil on success). attempt is called at least once.
func (p *Policy) Do(ctx context.Context, attempt func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initialBackoff
	eb.MaxInterval = maxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0

	var b backoff.BackOff = eb
	switch {
	case p.retries == 0:
		b = &backoff.StopBackOff{}
	case p.retries < 0:
		eb.MaxElapsedTime = time.Duration(p.deliveryTimeoutMs) * time.Millisecond
		b = eb
	default:
		b = backoff.WithMaxRetries(eb, uint64(p.retries))
	}
	b = backoff.WithContext(b, ctx)

	var lastErr error
	attempts := 0
	op := func() error {
		if attempts > 0 && p.onRetry != nil {
			p.onRetry()
		}
		attempts++
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !Recoverable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
