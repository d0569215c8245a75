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
	"strings"
	"time"
)

// Dependency names. One long-lived breaker exists per name, constructed at
// startup. Read and write paths for the index use independent breakers so
// a write outage does not block reads.
const (
	BreakerModel      = "model"
	BreakerEmbedding  = "embedding"
	BreakerIndexRead  = "index_read"
	BreakerIndexWrite = "index_write"
	BreakerWebSearch  = "web_search"
)

// isCountableModelFailure excludes quota exhaustion from breaker
// accounting: a quota error means the account is throttled, not that the
// dependency is unhealthy, so tripping the breaker would only delay
// recovery.
func isCountableModelFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota") || strings.Contains(msg, "insufficient_quota") {
		return false
	}
	return true
}

// defaultConfigs returns the per-dependency breaker parameters. Model calls
// tolerate fewer failures but get a longer reset window and request timeout
// than read paths; writes use a stricter threshold than reads.
func defaultConfigs() []Config {
	return []Config{
		{
			Name:             BreakerModel,
			FailureThreshold: 3,
			SuccessThreshold: 2,
			ResetTimeout:     60 * time.Second,
			RequestTimeout:   30 * time.Second,
			IsFailure:        isCountableModelFailure,
		},
		{
			Name:             BreakerEmbedding,
			FailureThreshold: 4,
			SuccessThreshold: 2,
			ResetTimeout:     30 * time.Second,
			RequestTimeout:   15 * time.Second,
		},
		{
			Name:             BreakerIndexRead,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     15 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		{
			Name:             BreakerIndexWrite,
			FailureThreshold: 3,
			SuccessThreshold: 2,
			ResetTimeout:     30 * time.Second,
			RequestTimeout:   15 * time.Second,
		},
		{
			Name:             BreakerWebSearch,
			FailureThreshold: 4,
			SuccessThreshold: 2,
			ResetTimeout:     20 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
	}
}

// Registry holds the process-wide breaker singletons.
//
// Thread Safety: the map is built once at construction and never mutated
// afterwards, so lookups need no locking.
type Registry struct {
	breakers map[string]*CircuitBreaker
	order    []string
}

// NewRegistry constructs one breaker per dependency with the default
// parameters.
func NewRegistry() *Registry {
	r := &Registry{breakers: make(map[string]*CircuitBreaker)}
	for _, cfg := range defaultConfigs() {
		r.breakers[cfg.Name] = New(cfg)
		r.order = append(r.order, cfg.Name)
	}
	return r
}

// Get returns the breaker for the named dependency, or nil for an unknown
// name.
func (r *Registry) Get(name string) *CircuitBreaker {
	return r.breakers[name]
}

// Metrics returns current metrics for every breaker, in construction order.
func (r *Registry) Metrics() []Metrics {
	out := make([]Metrics, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.breakers[name].GetMetrics())
	}
	return out
}

// ResetAll forces every breaker closed. Intended for test isolation only;
// never invoked in normal operation.
func (r *Registry) ResetAll() {
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
