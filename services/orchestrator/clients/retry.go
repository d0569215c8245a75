// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clients contains the dependency wrappers: one narrow client per
// external dependency (language model, embeddings, knowledge index, web
// search), each bound to its own circuit breaker. A single transient-error
// retry runs inside the breaker call so the breaker only observes the
// final outcome.
package clients

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
)

// transientRetryDelay is the fixed pause before the single retry.
const transientRetryDelay = 500 * time.Millisecond

// retryableStatusFragments are HTTP-style status codes, as they appear in
// wrapped error text, that indicate a transient condition worth one retry.
var retryableStatusFragments = []string{
	"status 429", "status 500", "status 502", "status 503", "status 529",
	"status code: 429", "status code: 500", "status code: 502",
	"status code: 503", "status code: 529",
}

// nonRetryableFragments mark authentication and validation failures that
// will fail identically on retry.
var nonRetryableFragments = []string{
	"status 400", "status 401", "status 403", "status 404", "status 422",
	"status code: 400", "status code: 401", "status code: 403",
	"api key", "unauthorized", "invalid request", "validation",
}

// isTransient reports whether an error is worth exactly one retry.
// Breaker-open rejections are never retried: the breaker already decided
// the dependency is unavailable.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range nonRetryableFragments {
		if strings.Contains(msg, frag) {
			return false
		}
	}
	for _, frag := range retryableStatusFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	for _, frag := range []string{"connection refused", "connection reset", "broken pipe", "timeout", "temporarily unavailable", "eof"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// withRetry runs op, retrying once after a fixed delay when the first
// attempt fails transiently.
func withRetry(ctx context.Context, dependency string, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || !isTransient(err) {
		return err
	}

	slog.Warn("transient error, retrying once",
		"dependency", dependency,
		"delay", transientRetryDelay,
		"error", err,
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(transientRetryDelay):
	}
	return op(ctx)
}
