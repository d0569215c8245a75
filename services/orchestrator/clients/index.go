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
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var indexTracer = otel.Tracer("athletegov.orchestrator.clients.index")

// governanceClass is the Weaviate class holding governance document chunks.
const governanceClass = "GovernanceDocument"

// Chunking parameters for the ingestion path.
const (
	chunkSize    = 1024
	chunkOverlap = 128
)

// SearchFilter narrows index searches to the organizations and domain the
// classifier detected. A nil filter searches everything.
type SearchFilter struct {
	OrgIDs []string
	Domain datatypes.TopicDomain
}

// DocumentSearcher is the read-side contract the retrieval step consumes.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, k int, filter *SearchFilter) ([]datatypes.GovernanceDocument, error)
}

// Compile-time interface implementation check.
var _ DocumentSearcher = (*IndexClient)(nil)

// IndexClient wraps Weaviate reads and writes for the governance knowledge
// index. Reads and writes go through independent breakers so a write
// outage does not block reads.
type IndexClient struct {
	client       *weaviate.Client
	embedder     *EmbeddingClient
	readBreaker  *resilience.CircuitBreaker
	writeBreaker *resilience.CircuitBreaker
}

// NewIndexClient creates an IndexClient. All arguments must be non-nil.
func NewIndexClient(
	client *weaviate.Client,
	embedder *EmbeddingClient,
	readBreaker *resilience.CircuitBreaker,
	writeBreaker *resilience.CircuitBreaker,
) *IndexClient {
	return &IndexClient{
		client:       client,
		embedder:     embedder,
		readBreaker:  readBreaker,
		writeBreaker: writeBreaker,
	}
}

// Search runs a semantic search against the governance index, optionally
// narrowed by the filter, and returns hits ranked by certainty descending.
func (c *IndexClient) Search(ctx context.Context, query string, k int, filter *SearchFilter) ([]datatypes.GovernanceDocument, error) {
	ctx, span := indexTracer.Start(ctx, "IndexClient.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var docs []datatypes.GovernanceDocument
	err = c.readBreaker.Execute(ctx, func(ctx context.Context) error {
		return withRetry(ctx, resilience.BreakerIndexRead, func(ctx context.Context) error {
			found, err := c.searchOnce(ctx, vector, k, filter)
			if err != nil {
				return err
			}
			docs = found
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("hits", len(docs)))
	return docs, nil
}

func (c *IndexClient) searchOnce(ctx context.Context, vector []float32, k int, filter *SearchFilter) ([]datatypes.GovernanceDocument, error) {
	nearVector := c.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	// Certainty is always [0,1] regardless of distance metric.
	fields := []graphql.Field{
		{Name: "title"},
		{Name: "source"},
		{Name: "content"},
		{Name: "org_id"},
		{Name: "domain"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	builder := c.client.GraphQL().Get().
		WithClassName(governanceClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k)

	if where := buildWhere(filter); where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GovernanceQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	docs := make([]datatypes.GovernanceDocument, 0, len(parsed.Get.GovernanceDocument))
	for _, hit := range parsed.Get.GovernanceDocument {
		docs = append(docs, datatypes.GovernanceDocument{
			ID:      hit.Additional.ID,
			Title:   hit.Title,
			Source:  hit.Source,
			Content: hit.Content,
			OrgID:   hit.OrgID,
			Domain:  hit.Domain,
			Score:   hit.Additional.Certainty,
		})
	}
	return docs, nil
}

// buildWhere translates a SearchFilter into a Weaviate where clause.
// Returns nil when the filter has nothing to narrow by.
func buildWhere(filter *SearchFilter) *filters.WhereBuilder {
	if filter == nil {
		return nil
	}

	var operands []*filters.WhereBuilder
	if len(filter.OrgIDs) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"org_id"}).
			WithOperator(filters.ContainsAny).
			WithValueString(filter.OrgIDs...))
	}
	if filter.Domain != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"domain"}).
			WithOperator(filters.Equal).
			WithValueString(string(filter.Domain)))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

// Write chunks, embeds, and batch-imports one governance document. Returns
// the number of chunks stored.
func (c *IndexClient) Write(ctx context.Context, req *datatypes.IngestDocumentRequest) (int, error) {
	ctx, span := indexTracer.Start(ctx, "IndexClient.Write")
	defer span.End()
	span.SetAttributes(attribute.String("source", req.Source))

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		// Content-derived ids make re-ingestion idempotent.
		hash := sha256.Sum256([]byte(chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  governanceClass,
			ID:     strfmt.UUID(docUUID.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"title":   req.Title,
				"source":  fmt.Sprintf("%s_part_%d", req.Source, i+1),
				"content": chunk,
				"org_id":  req.OrgID,
				"domain":  req.Domain,
			},
		}
	}

	var stored int
	err = c.writeBreaker.Execute(ctx, func(ctx context.Context) error {
		return withRetry(ctx, resilience.BreakerIndexWrite, func(ctx context.Context) error {
			resp, err := c.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to save objects to Weaviate: %w", err)
			}
			stored = 0
			for _, item := range resp {
				if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
					stored++
					continue
				}
				slog.Warn("Failed Weaviate batch item", "source", req.Source)
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	slog.Info("Ingested governance document", "source", req.Source, "chunks", stored)
	span.SetAttributes(attribute.Int("chunks_stored", stored))
	return stored, nil
}
