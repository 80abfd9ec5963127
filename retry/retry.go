/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry retries transient collaborator failures, such as GitHub
// rate limits, with exponential backoff and jitter. Pipeline stages never
// use it: a failed stage is reported to the caller as is.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// 0 means do not retry at all.
	MaxRetries int `env:"MAX_RETRIES,default=3"`
	// BaseBackoff is the wait before the first retry; it doubles on each
	// following one.
	BaseBackoff time.Duration `env:"BASE_BACKOFF,default=1s"`
	// MaxBackoff caps a single wait, including any server hint.
	MaxBackoff time.Duration `env:"MAX_BACKOFF,default=30s"`
	// MaxJitter is the largest random amount added to each wait.
	MaxJitter time.Duration `env:"MAX_JITTER,default=250ms"`
}

// Validate checks that the policy has usable values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if p.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if p.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultPolicy suits hosted API rate limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Hinted is implemented by errors that know how long to wait before the
// next attempt, e.g. from a Retry-After header.
type Hinted interface {
	RetryAfter() time.Duration
}

// Do calls fn until it succeeds, returns an error isRetryable rejects, or
// the policy is exhausted. ctx cancellation interrupts the wait between
// attempts.
func Do[T any](ctx context.Context, p Policy, op string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) {
			return result, lastErr
		}
		if attempt >= p.MaxRetries {
			break
		}

		wait := p.backoff(attempt, lastErr)
		clog.FromContext(ctx).With("operation", op).
			With("attempt", attempt+1).
			With("max_retries", p.MaxRetries).
			With("backoff", wait).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}

	return result, fmt.Errorf("%s failed after %d retries: %w", op, p.MaxRetries, lastErr)
}

func (p Policy) backoff(attempt int, err error) time.Duration {
	wait := p.BaseBackoff << attempt
	var h Hinted
	if errors.As(err, &h) && h.RetryAfter() > wait {
		wait = h.RetryAfter()
	}
	if p.MaxBackoff > 0 {
		wait = min(wait, p.MaxBackoff)
	}
	if p.MaxJitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter))); err == nil {
			wait += time.Duration(n.Int64())
		}
	}
	return wait
}
