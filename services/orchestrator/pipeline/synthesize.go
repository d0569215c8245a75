// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

const synthesizeSystemPrompt = `You are a knowledgeable, plain-spoken assistant helping athletes understand sports governance rules and processes.
Answer the user's question using ONLY the provided context. If the context does not cover the question, say so honestly and suggest who to contact.
Keep the answer practical: what the rule is, what it means for the athlete, and what to do next.`

// maxContextDocs bounds how many retrieved chunks go into the prompt.
const maxContextDocs = 6

// SynthesizeStep produces the answer text from the retrieved and
// researched context, streaming tokens onto the feed as they arrive.
// Unlike the earlier steps, its failures propagate: the orchestrator
// surfaces them to the client after finalizing partial state.
type SynthesizeStep struct {
	model clients.ModelInvoker
}

// NewSynthesizeStep creates a SynthesizeStep.
func NewSynthesizeStep(model clients.ModelInvoker) *SynthesizeStep {
	return &SynthesizeStep{model: model}
}

// Name implements Step.
func (s *SynthesizeStep) Name() string { return StateSynthesize }

// Run implements Step.
func (s *SynthesizeStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateSynthesize))

	messages := buildSynthesisMessages(st)
	answer, err := s.model.InvokeStream(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32(0.3),
		MaxTokens:   llm.Int(2048),
	}, func(tok string) {
		emit(datatypes.IncrementRecord(tok, StateSynthesize))
	})
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	st.Answer = answer
	return nil
}

// buildSynthesisMessages assembles the grounding context, the prior
// conversation summary, and, on a retry pass, the quality critique.
func buildSynthesisMessages(st *datatypes.PipelineState) []datatypes.Message {
	var ctx strings.Builder

	if st.PriorSummary != "" {
		ctx.WriteString("Conversation so far: ")
		ctx.WriteString(st.PriorSummary)
		ctx.WriteString("\n\n")
	}
	if st.SportContext != "" {
		ctx.WriteString("The athlete's sport: ")
		ctx.WriteString(st.SportContext)
		ctx.WriteString("\n\n")
	}

	if len(st.RetrievedDocs) > 0 {
		ctx.WriteString("Governance documents:\n")
		for i, doc := range st.RetrievedDocs {
			if i >= maxContextDocs {
				break
			}
			fmt.Fprintf(&ctx, "[%s] %s\n%s\n\n", doc.Source, doc.Title, doc.Content)
		}
	}
	if len(st.WebResults) > 0 {
		ctx.WriteString("Web sources:\n")
		for _, r := range st.WebResults {
			fmt.Fprintf(&ctx, "[%s] %s\n%s\n\n", r.URL, r.Title, r.Content)
		}
	}
	if ctx.Len() == 0 {
		ctx.WriteString("No reference material was found for this question.\n")
	}

	system := synthesizeSystemPrompt
	if st.TimeSensitive {
		system += "\nThe user is under a deadline; lead with the time-critical part."
	}
	if st.Quality != nil && !st.Quality.Passed && st.Quality.Critique != "" {
		system += "\nA previous draft was rejected for the following reasons; address them:\n" + st.Quality.Critique
	}

	messages := []datatypes.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Context:\n" + ctx.String() + "\nQuestion: " + st.LastUserMessage()},
	}
	return messages
}
