/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prmanager

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// RetryConfig bounds the merge retry loop. Merges race the hosting
// platform's mergeability computation, so transient 405/409-class
// failures are expected and worth a few retries.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// 0 means try exactly once.
	MaxRetries int
	// BaseBackoff is the initial backoff duration.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to each backoff.
	MaxJitter time.Duration
}

// DefaultRetryConfig matches the merge path's historical policy: five
// total attempts with backoff growing from 4s toward 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  4,
		BaseBackoff: 4 * time.Second,
		MaxBackoff:  10 * time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

// isPermissionDenied classifies failures that no amount of retrying can
// fix: the token simply is not allowed to perform the operation.
func isPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"permission denied", "403", "401", "forbidden", "unauthorized"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryWithBackoff runs fn with exponential backoff, retrying only
// errors isRetryable accepts.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, operation string, isRetryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		backoff := min(cfg.BaseBackoff<<attempt, cfg.MaxBackoff)

		var jitter time.Duration
		if cfg.MaxJitter > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter)))
			if err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", backoff+jitter).
			With("error", lastErr.Error()).
			Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}
