// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"context"
	"time"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var modelTracer = otel.Tracer("athletegov.orchestrator.clients.model")

// ModelInvoker is the narrow language-model contract the pipeline steps
// consume. Implementations must be safe for concurrent use.
type ModelInvoker interface {
	// Invoke runs one chat completion through the model breaker.
	Invoke(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error)

	// InvokeStream runs one chat completion delivering tokens through
	// onToken, returning the accumulated text.
	InvokeStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, onToken func(string)) (string, error)
}

// Compile-time interface implementation check.
var _ ModelInvoker = (*ModelClient)(nil)

// ModelClient wraps an LLM backend with the model circuit breaker and the
// single transient retry.
type ModelClient struct {
	backend llm.LLMClient
	breaker *resilience.CircuitBreaker
}

// NewModelClient creates a ModelClient. Both arguments must be non-nil.
func NewModelClient(backend llm.LLMClient, breaker *resilience.CircuitBreaker) *ModelClient {
	return &ModelClient{backend: backend, breaker: breaker}
}

// Invoke implements ModelInvoker.
func (m *ModelClient) Invoke(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	ctx, span := modelTracer.Start(ctx, "ModelClient.Invoke")
	defer span.End()
	span.SetAttributes(attribute.Int("messages", len(messages)))

	var out string
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return withRetry(ctx, resilience.BreakerModel, func(ctx context.Context) error {
			text, err := m.backend.Chat(ctx, messages, params)
			if err != nil {
				return err
			}
			out = text
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return out, nil
}

// InvokeStream implements ModelInvoker. The retry applies only while no
// token has been delivered: once the client has seen output, replaying the
// stream would duplicate text.
func (m *ModelClient) InvokeStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, onToken func(string)) (string, error) {
	ctx, span := modelTracer.Start(ctx, "ModelClient.InvokeStream")
	defer span.End()

	var out string
	var emitted bool
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		attempt := func(ctx context.Context) error {
			text, err := m.backend.ChatStream(ctx, messages, params, func(tok string) {
				emitted = true
				onToken(tok)
			})
			if err != nil {
				return err
			}
			out = text
			return nil
		}

		err := attempt(ctx)
		if err == nil || emitted || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transientRetryDelay):
		}
		return attempt(ctx)
	})
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	span.SetAttributes(attribute.Int("answer_chars", len(out)))
	return out, nil
}

// InvokeWithFallback runs Invoke but degrades to the fallback text instead
// of propagating breaker-open or model failures. Used for paths that must
// never fail, such as summary generation.
func (m *ModelClient) InvokeWithFallback(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, fallback string) string {
	out := fallback
	_ = m.breaker.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			return withRetry(ctx, resilience.BreakerModel, func(ctx context.Context) error {
				text, err := m.backend.Chat(ctx, messages, params)
				if err != nil {
					return err
				}
				out = text
				return nil
			})
		},
		func(ctx context.Context) error {
			out = fallback
			return nil
		},
	)
	return out
}
