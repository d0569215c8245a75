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
	"encoding/json"
	"log/slog"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

const qualitySystemPrompt = `You are reviewing a draft answer to an athlete's governance question.
Check: does it answer the question asked, is it grounded in the provided context, does it avoid inventing rules, and is the guidance actionable?
Respond with ONLY a JSON object:
{"passed": bool, "score": number 0-1, "issues": [strings], "critique": string}`

// QualityCheckStep scores the draft answer. Every check writes a fresh
// QualityResult pointer into the state; downstream consumers rely on that
// identity to tell a new verdict from a redelivered one. A failing checker
// is never allowed to block an answer: model or parse failures count as a
// pass with a warning.
type QualityCheckStep struct {
	model clients.ModelInvoker
}

// NewQualityCheckStep creates a QualityCheckStep.
func NewQualityCheckStep(model clients.ModelInvoker) *QualityCheckStep {
	return &QualityCheckStep{model: model}
}

// Name implements Step.
func (s *QualityCheckStep) Name() string { return StateQualityCheck }

// Run implements Step.
func (s *QualityCheckStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateQualityCheck))

	messages := []datatypes.Message{
		{Role: "system", Content: qualitySystemPrompt},
		{Role: "user", Content: "Question: " + st.LastUserMessage() + "\n\nDraft answer:\n" + st.Answer},
	}
	raw, err := s.model.Invoke(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(512),
	})
	if err != nil {
		slog.Warn("quality check unavailable, accepting draft",
			"conversation_id", st.ConversationID,
			"error", err,
		)
		st.Quality = &datatypes.QualityResult{Passed: true, Issues: []string{"quality check unavailable"}}
		return nil
	}

	var result datatypes.QualityResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err != nil {
		slog.Warn("unparseable quality verdict, accepting draft",
			"conversation_id", st.ConversationID,
			"error", err,
		)
		st.Quality = &datatypes.QualityResult{Passed: true, Issues: []string{"quality verdict unparseable"}}
		return nil
	}

	st.Quality = &result
	slog.Info("Quality check complete",
		"conversation_id", st.ConversationID,
		"passed", result.Passed,
		"score", result.Score,
		"retries", st.QualityRetries,
	)
	return nil
}
