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
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GovernanceDocument is a ranked chunk retrieved from the knowledge index.
type GovernanceDocument struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	OrgID   string  `json:"org_id,omitempty"`
	Domain  string  `json:"domain,omitempty"`
	Score   float64 `json:"score"`
}

// WebResult is a web-search hit normalized to the shape the pipeline
// consumes regardless of the search provider.
type WebResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Citation points the user at the material an answer was grounded on.
type Citation struct {
	Title  string `json:"title"`
	Source string `json:"source"`
}

// =============================================================================
// Request Types
// =============================================================================

// AskRequest is the orchestrator's client-facing input.
type AskRequest struct {
	Turns          []Message `json:"turns" binding:"required,min=1"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SportContext   string    `json:"sport_context,omitempty"`
}

// Validate checks structural invariants gin's binding tags cannot express.
func (r *AskRequest) Validate() error {
	for i, t := range r.Turns {
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("turn %d has empty content", i)
		}
		switch strings.ToLower(t.Role) {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("turn %d has unknown role %q", i, t.Role)
		}
	}
	return nil
}

// EnsureConversationID populates a conversation id when the client did not
// supply one, and returns it.
func (r *AskRequest) EnsureConversationID() string {
	if r.ConversationID == "" {
		r.ConversationID = "conv_" + uuid.NewString()
	}
	return r.ConversationID
}

// IngestDocumentRequest is the index write-path input: one governance
// document to chunk, embed, and import.
type IngestDocumentRequest struct {
	Source  string `json:"source" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
	OrgID   string `json:"org_id,omitempty"`
	Domain  string `json:"domain,omitempty"`
}
