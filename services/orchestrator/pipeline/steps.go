// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the question-answering pipeline: the
// processing steps (classify, retrieve, research, synthesize, quality
// check, the direct-answer steps, finalize) and the orchestrator that
// sequences them as a bounded-retry state machine over the shared
// PipelineState.
package pipeline

import (
	"context"
	"strings"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

// =============================================================================
// State Machine Names
// =============================================================================

// Pipeline state names. Each names both an FSM state and the step that
// runs in it; increments on the internal feed carry the originating name.
const (
	StateClassify         = "classify"
	StateClarify          = "clarify"
	StateRetrieve         = "retrieve"
	StateResearch         = "research"
	StateSynthesize       = "synthesize"
	StateQualityCheck     = "quality_check"
	StateEscalate         = "escalate"
	StateEmotionalSupport = "emotional_support"
	StateFinalize         = "finalize"
	StateDone             = "done"
)

// emitFunc delivers one record onto the internal feed. It never blocks
// past context cancellation.
type emitFunc func(datatypes.FeedRecord)

// Step is the uniform contract every pipeline node satisfies: mutate the
// state in place, emit increments for streaming output, and return an
// error only when the failure must surface to the client. Steps that can
// degrade gracefully absorb their own failures and return nil.
type Step interface {
	Name() string
	Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error
}

// =============================================================================
// Shared Parsing Helpers
// =============================================================================

// stripCodeFence removes surrounding markdown code-fence markup that
// models often wrap JSON responses in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// formatTranscript renders the conversation turns as plain text for
// prompt inclusion.
func formatTranscript(turns []datatypes.Message) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
