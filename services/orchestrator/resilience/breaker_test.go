// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) error { return errBoom }
func okOp(ctx context.Context) error      { return nil }

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterThresholdFailures(t *testing.T) {
	cb := New(Config{Name: "dep", FailureThreshold: 3, ResetTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
		if cb.State() != StateClosed {
			t.Fatalf("call %d: state = %v, want closed", i, cb.State())
		}
	}

	// 3rd consecutive failure opens the breaker.
	if err := cb.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("3rd call err = %v, want errBoom", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state after 3rd failure = %v, want open", cb.State())
	}

	// 4th call fails immediately without invoking the operation.
	invoked := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("4th call err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("4th call invoked the operation while open")
	}
}

func TestCircuitBreaker_HalfOpenAllowsOneTrial(t *testing.T) {
	cb := New(Config{Name: "dep", FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	if err := cb.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	// Reset timeout elapsed: exactly one trial call is let through. The
	// trial blocks while a second call arrives; the second is rejected.
	started := make(chan struct{})
	finish := make(chan struct{})
	trialErr := make(chan error, 1)
	go func() {
		trialErr <- cb.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	if err := cb.Execute(ctx, okOp); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call during trial err = %v, want ErrCircuitOpen", err)
	}
	close(finish)
	if err := <-trialErr; err != nil {
		t.Errorf("trial call err = %v, want nil", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("state after one success = %v, want half-open (success threshold 2)", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := New(Config{
		Name:             "dep",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	})
	ctx := context.Background()

	cb.Execute(ctx, failingOp)
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, okOp); err != nil {
			t.Fatalf("trial %d err = %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after %d successes", cb.State(), 2)
	}
}

func TestCircuitBreaker_FailureWhileHalfOpenReopens(t *testing.T) {
	cb := New(Config{Name: "dep", FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	cb.Execute(ctx, failingOp)
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("trial err = %v, want errBoom", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after failed trial", cb.State())
	}
}

func TestCircuitBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb := New(Config{
		Name:             "dep",
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		RequestTimeout:   10 * time.Millisecond,
	})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after timeout", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := New(Config{Name: "dep", FailureThreshold: 3, ResetTimeout: time.Hour})
	ctx := context.Background()

	cb.Execute(ctx, failingOp)
	cb.Execute(ctx, failingOp)
	cb.Execute(ctx, okOp)
	cb.Execute(ctx, failingOp)
	cb.Execute(ctx, failingOp)

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (success reset the streak)", cb.State())
	}

	m := cb.GetMetrics()
	if m.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", m.ConsecutiveFailures)
	}
	if m.TotalFailures != 4 {
		t.Errorf("TotalFailures = %d, want 4", m.TotalFailures)
	}
}

func TestCircuitBreaker_PredicateExcludesErrors(t *testing.T) {
	cb := New(Config{
		Name:             "dep",
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errBoom)
		},
	})
	ctx := context.Background()

	// Excluded errors are returned but never counted.
	for i := 0; i < 5; i++ {
		if err := cb.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("err = %v, want errBoom", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (predicate excluded failures)", cb.State())
	}
	if m := cb.GetMetrics(); m.TotalFailures != 0 {
		t.Errorf("TotalFailures = %d, want 0", m.TotalFailures)
	}
}

func TestCircuitBreaker_ExecuteWithFallback(t *testing.T) {
	cb := New(Config{Name: "dep", FailureThreshold: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	var usedFallback bool
	fallback := func(ctx context.Context) error {
		usedFallback = true
		return nil
	}

	if err := cb.ExecuteWithFallback(ctx, failingOp, fallback); err != nil {
		t.Fatalf("err = %v, want nil via fallback", err)
	}
	if !usedFallback {
		t.Error("fallback was not invoked on operation failure")
	}

	// Breaker is now open; fallback also absorbs breaker-open rejections.
	usedFallback = false
	if err := cb.ExecuteWithFallback(ctx, okOp, fallback); err != nil {
		t.Fatalf("err = %v, want nil via fallback", err)
	}
	if !usedFallback {
		t.Error("fallback was not invoked on breaker-open rejection")
	}
}

func TestCircuitBreaker_ResetRestoresClosedState(t *testing.T) {
	cb := New(Config{Name: "dep", FailureThreshold: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	cb.Execute(ctx, failingOp)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after Reset = %v, want closed", cb.State())
	}
	if m := cb.GetMetrics(); m.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures after Reset = %d, want 0", m.ConsecutiveFailures)
	}
	// Lifetime counters persist across Reset.
	if m := cb.GetMetrics(); m.TotalFailures != 1 {
		t.Errorf("TotalFailures after Reset = %d, want 1", m.TotalFailures)
	}
}

func TestRegistry_ConstructsAllDependencyBreakers(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{
		BreakerModel, BreakerEmbedding, BreakerIndexRead, BreakerIndexWrite, BreakerWebSearch,
	} {
		cb := r.Get(name)
		if cb == nil {
			t.Fatalf("Get(%q) = nil", name)
		}
		if cb.State() != StateClosed {
			t.Errorf("%s initial state = %v, want closed", name, cb.State())
		}
	}
	if r.Get("unknown") != nil {
		t.Error("Get(unknown) should be nil")
	}
	if got := len(r.Metrics()); got != 5 {
		t.Errorf("len(Metrics()) = %d, want 5", got)
	}
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	cb := r.Get(BreakerIndexWrite)
	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failingOp)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	r.ResetAll()
	if cb.State() != StateClosed {
		t.Errorf("state after ResetAll = %v, want closed", cb.State())
	}
}

func TestIsCountableModelFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"quota exceeded", errors.New("API error: quota exceeded"), false},
		{"insufficient quota", errors.New("insufficient_quota for account"), false},
		{"server error", errors.New("status 500: internal error"), true},
		{"timeout", ErrTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCountableModelFailure(tt.err); got != tt.want {
				t.Errorf("isCountableModelFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
