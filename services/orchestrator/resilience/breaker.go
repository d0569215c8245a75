// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the circuit-breaker primitive every external
// dependency call passes through, plus the process-wide registry of
// per-dependency breaker singletons.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call by policy
// without invoking the wrapped operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTimeout is returned when an operation exceeds the breaker's request
// timeout. A timeout counts as a failure for breaker accounting.
var ErrTimeout = errors.New("operation timed out")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation - requests pass through.
	StateClosed State = iota
	// StateOpen means too many failures - requests are rejected.
	StateOpen
	// StateHalfOpen is testing recovery - one trial request allowed.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures one circuit breaker.
type Config struct {
	// Name identifies the protected dependency in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures before
	// opening (default: 3).
	FailureThreshold int

	// SuccessThreshold is successes needed to close from half-open
	// (default: 2).
	SuccessThreshold int

	// ResetTimeout is how long to stay open before testing recovery
	// (default: 30s).
	ResetTimeout time.Duration

	// RequestTimeout bounds each wrapped call; exceeding it counts as a
	// failure (default: 15s).
	RequestTimeout time.Duration

	// IsFailure, when set, can exclude certain error kinds (e.g.
	// quota-exceeded) from failure counting. The error is still returned
	// to the caller either way.
	IsFailure func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return c
}

// Metrics contains a breaker's current state and counters for observability.
type Metrics struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalCalls          int64     `json:"total_calls"`
	TotalFailures       int64     `json:"total_failures"`
	TotalRejections     int64     `json:"total_rejections"`
	LastStateChange     time.Time `json:"last_state_change"`
}

// CircuitBreaker guards calls to one external dependency.
//
// The breaker has three states:
//
//   - Closed: normal operation, requests pass through.
//   - Open: after FailureThreshold consecutive failures, requests are
//     rejected immediately with ErrCircuitOpen.
//   - Half-Open: after ResetTimeout, exactly one trial request tests
//     recovery; SuccessThreshold successes close the breaker, any failure
//     reopens it.
//
// One instance is created per dependency at process start; state
// transitions are the only mutation path, and Reset exists solely for
// test isolation.
//
// Thread Safety: safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	successes           int
	halfOpenInFlight    int
	lastStateChange     time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// New creates a circuit breaker with defaults applied to the config.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:             cfg.withDefaults(),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the protected dependency's name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs op under breaker protection.
//
// If the breaker is open and the reset timeout has not elapsed, it fails
// immediately with ErrCircuitOpen without invoking op. Otherwise op runs
// racing the configured request timeout; a timeout counts as a failure and
// surfaces as a wrapped ErrTimeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	release, err := cb.allow()
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}

	err = cb.runWithTimeout(ctx, op)
	cb.record(err)
	return err
}

// ExecuteWithFallback behaves like Execute but invokes fallback instead of
// propagating breaker-open or operation failures. Failure accounting still
// happens; only the caller-visible outcome degrades gracefully.
func (cb *CircuitBreaker) ExecuteWithFallback(
	ctx context.Context,
	op func(ctx context.Context) error,
	fallback func(ctx context.Context) error,
) error {
	err := cb.Execute(ctx, op)
	if err == nil {
		return nil
	}
	slog.Debug("breaker falling back", "breaker", cb.cfg.Name, "error", err)
	return fallback(ctx)
}

// runWithTimeout races op against the request timeout. The op receives a
// context that is canceled at the deadline; a slow op that ignores its
// context still cannot delay the caller past the deadline.
func (cb *CircuitBreaker) runWithTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, cb.cfg.RequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", cb.cfg.Name, ErrTimeout)
		}
		return opCtx.Err()
	}
}

// allow decides whether a call may proceed. The returned release function,
// when non-nil, must be called after the trial call completes.
func (cb *CircuitBreaker) allow() (func(), error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	switch cb.state {
	case StateClosed:
		return nil, nil

	case StateOpen:
		if time.Since(cb.lastStateChange) < cb.cfg.ResetTimeout {
			cb.totalRejections++
			return nil, fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		cb.transitionTo(StateHalfOpen)
		return cb.tryHalfOpen()

	case StateHalfOpen:
		return cb.tryHalfOpen()
	}

	cb.totalRejections++
	return nil, fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
}

// tryHalfOpen admits at most one in-flight trial call. Must be called with
// the lock held.
func (cb *CircuitBreaker) tryHalfOpen() (func(), error) {
	if cb.halfOpenInFlight >= 1 {
		cb.totalRejections++
		return nil, fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
	}
	cb.halfOpenInFlight++
	return func() {
		cb.mu.Lock()
		cb.halfOpenInFlight--
		cb.mu.Unlock()
	}, nil
}

// record applies the final outcome of a wrapped call to the breaker state.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.transitionTo(StateClosed)
				slog.Info("circuit breaker closed", "breaker", cb.cfg.Name)
			}
		case StateClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	if cb.cfg.IsFailure != nil && !cb.cfg.IsFailure(err) {
		return
	}

	cb.totalFailures++
	cb.consecutiveFailures++
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transitionTo(StateOpen)
			slog.Warn("circuit breaker opened",
				"breaker", cb.cfg.Name,
				"consecutive_failures", cb.consecutiveFailures,
				"error", err,
			)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
		slog.Warn("circuit breaker reopened after failed trial",
			"breaker", cb.cfg.Name, "error", err)
	}
}

// transitionTo changes state. Must be called with the lock held. The
// consecutive counter resets on every transition; lifetime counters persist.
func (cb *CircuitBreaker) transitionTo(newState State) {
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.consecutiveFailures = 0
	cb.successes = 0
}

// GetMetrics returns the breaker's current state and counters.
func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Metrics{
		Name:                cb.cfg.Name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalCalls:          cb.totalCalls,
		TotalFailures:       cb.totalFailures,
		TotalRejections:     cb.totalRejections,
		LastStateChange:     cb.lastStateChange,
	}
}

// Reset forces the closed state with zeroed consecutive counters. Lifetime
// counters persist. Intended for test isolation only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0
	cb.lastStateChange = time.Now()
}
