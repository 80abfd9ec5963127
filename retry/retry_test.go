/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/issuefix/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

func always(err error) bool { return err != nil }

type hinted struct{ wait time.Duration }

func (h hinted) Error() string { return "slow down" }
func (h hinted) RetryAfter() time.Duration { return h.wait }

func TestDo(t *testing.T) {
	transient := errors.New("502 bad gateway")
	permanent := errors.New("404 not found")

	tests := []struct {
		name         string
		policy       func() retry.Policy
		failures     int32
		err          error
		wantAttempts int32
		wantErr      error
	}{{
		name:         "first try",
		policy:       testPolicy,
		wantAttempts: 1,
	}, {
		name:         "recovers",
		policy:       testPolicy,
		failures:     2,
		err:          transient,
		wantAttempts: 3,
	}, {
		name:         "exhausted",
		policy:       testPolicy,
		failures:     100,
		err:          transient,
		wantAttempts: 4,
		wantErr:      transient,
	}, {
		name:         "not retryable",
		policy:       testPolicy,
		failures:     100,
		err:          permanent,
		wantAttempts: 1,
		wantErr:      permanent,
	}, {
		name: "zero retries",
		policy: func() retry.Policy {
			p := testPolicy()
			p.MaxRetries = 0
			return p
		},
		failures:     100,
		err:          transient,
		wantAttempts: 1,
		wantErr:      transient,
	}, {
		name:         "server hint is capped",
		policy:       testPolicy,
		failures:     1,
		err:          hinted{wait: time.Hour},
		wantAttempts: 2,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var attempts atomic.Int32
			isRetryable := func(err error) bool { return !errors.Is(err, permanent) }

			got, err := retry.Do(context.Background(), tt.policy(), "fetch", isRetryable, func() (string, error) {
				if attempts.Add(1) <= tt.failures {
					return "", tt.err
				}
				return "ok", nil
			})
			if n := attempts.Load(); n != tt.wantAttempts {
				t.Errorf("attempts = %d, wanted = %d", n, tt.wantAttempts)
			}
			if tt.wantErr == nil {
				if err != nil || got != "ok" {
					t.Errorf("Do() = %q, %v; wanted ok", got, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() error = %v, wanted %v", err, tt.wantErr)
			}
		})
	}
}

func TestDoWrapsExhaustedError(t *testing.T) {
	_, err := retry.Do(context.Background(), testPolicy(), "fetch", always, func() (int, error) {
		return 0, errors.New("503")
	})
	if err == nil || !strings.HasPrefix(err.Error(), "fetch failed after 3 retries") {
		t.Errorf("Do() error = %v, wanted prefix %q", err, "fetch failed after 3 retries")
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy()
	p.BaseBackoff = time.Minute
	p.MaxBackoff = time.Minute

	_, err := retry.Do(ctx, p, "fetch", always, func() (int, error) {
		cancel()
		return 0, errors.New("429")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, wanted context.Canceled", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := retry.DefaultPolicy().Validate(); err != nil {
		t.Errorf("DefaultPolicy().Validate() = %v", err)
	}
	if err := (retry.Policy{MaxRetries: -1}).Validate(); err == nil {
		t.Error("Validate() accepted negative retries")
	}
}
