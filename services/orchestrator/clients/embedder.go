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

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
)

// EmbeddingClient wraps an embedding backend with the embedding circuit
// breaker and the single transient retry.
type EmbeddingClient struct {
	backend llm.Embedder
	breaker *resilience.CircuitBreaker
}

// NewEmbeddingClient creates an EmbeddingClient. Both arguments must be
// non-nil.
func NewEmbeddingClient(backend llm.Embedder, breaker *resilience.CircuitBreaker) *EmbeddingClient {
	return &EmbeddingClient{backend: backend, breaker: breaker}
}

// EmbedQuery embeds one search query.
func (e *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		return withRetry(ctx, resilience.BreakerEmbedding, func(ctx context.Context) error {
			vec, err := e.backend.EmbedQuery(ctx, text)
			if err != nil {
				return err
			}
			out = vec
			return nil
		})
	})
	return out, err
}

// EmbedDocuments embeds a batch of document chunks for the index write
// path.
func (e *EmbeddingClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		return withRetry(ctx, resilience.BreakerEmbedding, func(ctx context.Context) error {
			vecs, err := e.backend.EmbedDocuments(ctx, texts)
			if err != nil {
				return err
			}
			out = vecs
			return nil
		})
	})
	return out, err
}
