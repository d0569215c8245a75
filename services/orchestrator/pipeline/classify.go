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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

const classifySystemPrompt = `You are a triage assistant for an athlete governance help service.
Classify the user's latest question and respond with ONLY a JSON object, no prose:
{
  "topicDomain": one of "team_selection"|"anti_doping"|"eligibility"|"discipline"|"funding"|"safeguarding"|"governance",
  "queryIntent": one of "general"|"rule_clarification"|"appeal_process"|"complaint"|"urgent_help",
  "detectedOrgIds": array of organization identifiers mentioned (may be empty),
  "shouldEscalate": true when the matter needs a human contact urgently,
  "escalationReason": short reason when shouldEscalate is true,
  "timeSensitive": true when a deadline is involved,
  "needsClarification": true when the question cannot be answered as asked,
  "clarifyingQuestion": the question to ask back when needsClarification is true,
  "emotionalState": one of "neutral"|"frustrated"|"anxious"|"distressed"
}`

// classification is the parsed, coerced classifier output applied to the
// pipeline state.
type classification struct {
	TopicDomain        datatypes.TopicDomain
	QueryIntent        datatypes.QueryIntent
	DetectedOrgIDs     []string
	ShouldEscalate     bool
	EscalationReason   string
	TimeSensitive      bool
	NeedsClarification bool
	ClarifyingQuestion string
	EmotionalState     datatypes.EmotionalState
}

// defaultClassification is the all-defaults result used when the
// conversation is empty or classification fails for any reason.
func defaultClassification() classification {
	return classification{
		TopicDomain:    datatypes.DefaultTopicDomain,
		QueryIntent:    datatypes.DefaultQueryIntent,
		EmotionalState: datatypes.EmotionNeutral,
	}
}

// classifierPayload mirrors the JSON shape the model is asked to produce.
// DetectedOrgIDs is loosely typed because models sometimes emit non-string
// entries; those are filtered out during coercion.
type classifierPayload struct {
	TopicDomain        string `json:"topicDomain"`
	QueryIntent        string `json:"queryIntent"`
	DetectedOrgIDs     []any  `json:"detectedOrgIds"`
	ShouldEscalate     bool   `json:"shouldEscalate"`
	EscalationReason   string `json:"escalationReason"`
	TimeSensitive      bool   `json:"timeSensitive"`
	NeedsClarification bool   `json:"needsClarification"`
	ClarifyingQuestion string `json:"clarifyingQuestion"`
	EmotionalState     string `json:"emotionalState"`
}

// parseClassifierOutput coerces raw model output into a valid
// classification. Invalid enum values fall back to the documented defaults
// and each invalid field yields one diagnostic; a raw invalid value is
// never propagated. A JSON parse failure yields the all-defaults result
// with a single diagnostic.
func parseClassifierOutput(raw string) (classification, []string) {
	var diagnostics []string

	var payload classifierPayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return defaultClassification(), []string{fmt.Sprintf("unparseable classifier output: %v", err)}
	}

	result := classification{
		ShouldEscalate:     payload.ShouldEscalate,
		EscalationReason:   payload.EscalationReason,
		TimeSensitive:      payload.TimeSensitive,
		NeedsClarification: payload.NeedsClarification,
		ClarifyingQuestion: payload.ClarifyingQuestion,
	}

	result.TopicDomain = datatypes.TopicDomain(payload.TopicDomain)
	if !result.TopicDomain.Valid() {
		diagnostics = append(diagnostics, fmt.Sprintf("invalid topic domain %q, using %q", payload.TopicDomain, datatypes.DefaultTopicDomain))
		result.TopicDomain = datatypes.DefaultTopicDomain
	}

	result.QueryIntent = datatypes.QueryIntent(payload.QueryIntent)
	if !result.QueryIntent.Valid() {
		diagnostics = append(diagnostics, fmt.Sprintf("invalid query intent %q, using %q", payload.QueryIntent, datatypes.DefaultQueryIntent))
		result.QueryIntent = datatypes.DefaultQueryIntent
	}

	// Only non-empty string entries survive.
	for _, entry := range payload.DetectedOrgIDs {
		if s, ok := entry.(string); ok && s != "" {
			result.DetectedOrgIDs = append(result.DetectedOrgIDs, s)
		}
	}

	result.EmotionalState = datatypes.EmotionalState(payload.EmotionalState)
	if payload.EmotionalState == "" || !result.EmotionalState.Valid() {
		result.EmotionalState = datatypes.EmotionNeutral
	}

	return result, diagnostics
}

// ClassifyStep determines topic domain, intent, organizations, escalation
// and clarification flags, and emotional state from the conversation.
// Failures never abort the pipeline: any model or parse problem degrades
// to the all-defaults classification.
type ClassifyStep struct {
	model clients.ModelInvoker
}

// NewClassifyStep creates a ClassifyStep.
func NewClassifyStep(model clients.ModelInvoker) *ClassifyStep {
	return &ClassifyStep{model: model}
}

// Name implements Step.
func (s *ClassifyStep) Name() string { return StateClassify }

// Run implements Step.
func (s *ClassifyStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateClassify))

	if len(st.Turns) == 0 || st.LastUserMessage() == "" {
		applyClassification(st, defaultClassification())
		return nil
	}

	messages := []datatypes.Message{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: formatTranscript(st.Turns)},
	}
	raw, err := s.model.Invoke(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(512),
	})
	if err != nil {
		slog.Warn("classification failed, using defaults",
			"conversation_id", st.ConversationID,
			"error", err,
		)
		applyClassification(st, defaultClassification())
		return nil
	}

	result, diagnostics := parseClassifierOutput(raw)
	for _, d := range diagnostics {
		slog.Warn("classifier output corrected",
			"conversation_id", st.ConversationID,
			"diagnostic", d,
		)
	}
	applyClassification(st, result)

	slog.Info("Classified question",
		"conversation_id", st.ConversationID,
		"domain", st.TopicDomain,
		"intent", st.QueryIntent,
		"escalate", st.ShouldEscalate,
		"clarify", st.NeedsClarification,
		"emotional_state", st.EmotionalState,
	)
	return nil
}

func applyClassification(st *datatypes.PipelineState, c classification) {
	st.TopicDomain = c.TopicDomain
	st.QueryIntent = c.QueryIntent
	st.DetectedOrgIDs = c.DetectedOrgIDs
	st.ShouldEscalate = c.ShouldEscalate
	st.EscalationReason = c.EscalationReason
	st.TimeSensitive = c.TimeSensitive
	st.NeedsClarification = c.NeedsClarification
	st.ClarifyingQuestion = c.ClarifyingQuestion
	st.EmotionalState = c.EmotionalState
}
