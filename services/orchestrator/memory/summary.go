// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"strings"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

const summarySystemPrompt = `Maintain a running summary of a conversation between an athlete and a governance assistant.
Merge the existing summary with the new turns into a single concise paragraph.
Keep: the athlete's sport and organizations, the questions asked, what was answered, and any open follow-ups. Drop pleasantries.`

// Summarizer maintains rolling conversation summaries via a lightweight
// model call.
type Summarizer struct {
	model *clients.ModelClient
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(model *clients.ModelClient) *Summarizer {
	return &Summarizer{model: model}
}

// GenerateSummary merges the existing summary with the new turns. By
// contract it never fails: on any model problem it returns the existing
// summary unchanged, or "" when there was none.
func (s *Summarizer) GenerateSummary(ctx context.Context, turns []datatypes.Message, existing string) string {
	if len(turns) == 0 {
		return existing
	}

	var sb strings.Builder
	if existing != "" {
		sb.WriteString("Existing summary:\n")
		sb.WriteString(existing)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New turns:\n")
	for _, t := range turns {
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}

	messages := []datatypes.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: sb.String()},
	}
	return s.model.InvokeWithFallback(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(384),
	}, existing)
}
