// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetGovernanceDocumentSchema returns the schema for the
// GovernanceDocument class: chunked governance material with the
// filterable fields retrieval narrows by.
//
// # Properties
//
//   - title: Human-readable document title.
//   - source: Chunk-qualified source identifier (e.g., 'selection_policy_part_3').
//   - content: The chunk text itself.
//   - org_id: Owning organization identifier, filterable.
//   - domain: Topic domain the document belongs to, filterable.
func GetGovernanceDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "GovernanceDocument",
		Description: "A chunk of sports-governance documentation with retrieval metadata.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Human-readable document title.",
			},
			{
				Name:         "source",
				DataType:     []string{"text"},
				Description:  "Chunk-qualified source identifier.",
				Tokenization: "field",
			},
			{
				Name:        "content",
				DataType:    []string{"text"},
				Description: "The chunk text.",
			},
			{
				Name:            "org_id",
				DataType:        []string{"text"},
				Description:     "Owning organization identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "domain",
				DataType:        []string{"text"},
				Description:     "Topic domain the document belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup. Failing to
// create a class is fatal; the service cannot serve retrieval without it.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetGovernanceDocumentSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
