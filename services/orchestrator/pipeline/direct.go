// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Direct-answer steps: escalate, clarify, and emotional support set the
// answer straight on the state without invoking synthesis. They are
// deterministic so they can never fail.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

// escalationContact maps a topic domain to the contact the user should be
// redirected to.
type escalationContact struct {
	Target  string
	Details string
}

var escalationContacts = map[datatypes.TopicDomain]escalationContact{
	datatypes.DomainAntiDoping: {
		Target:  "national anti-doping organization",
		Details: "Contact your national anti-doping organization's athlete support line before taking any further action.",
	},
	datatypes.DomainSafeguarding: {
		Target:  "safeguarding officer",
		Details: "Contact your sport's designated safeguarding officer or, if you feel unsafe right now, your local emergency services.",
	},
	datatypes.DomainDiscipline: {
		Target:  "independent athlete ombuds",
		Details: "Contact the independent athlete ombuds office for confidential guidance on disciplinary proceedings.",
	},
	datatypes.DomainTeamSelection: {
		Target:  "athlete representative",
		Details: "Contact your athlete representative or players' association; selection appeals usually carry short deadlines.",
	},
}

// defaultEscalationContact covers domains without a specific mapping.
var defaultEscalationContact = escalationContact{
	Target:  "national governing body athlete services",
	Details: "Contact your national governing body's athlete services office and ask to be directed to the right person.",
}

// EscalateStep redirects the user to a human contact for urgent or
// out-of-scope matters.
type EscalateStep struct{}

// NewEscalateStep creates an EscalateStep.
func NewEscalateStep() *EscalateStep { return &EscalateStep{} }

// Name implements Step.
func (s *EscalateStep) Name() string { return StateEscalate }

// Run implements Step.
func (s *EscalateStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateEscalate))

	contact, ok := escalationContacts[st.TopicDomain]
	if !ok {
		contact = defaultEscalationContact
	}

	urgency := "normal"
	if st.TimeSensitive || st.QueryIntent == datatypes.IntentUrgentHelp {
		urgency = "high"
	}
	reason := st.EscalationReason
	if reason == "" {
		reason = "question requires a human contact"
	}

	st.Escalation = &datatypes.Escalation{
		Target:  contact.Target,
		Reason:  reason,
		Urgency: urgency,
	}
	st.Answer = fmt.Sprintf(
		"This is something a person needs to handle directly rather than me. %s",
		contact.Details,
	)

	slog.Info("Escalating conversation",
		"conversation_id", st.ConversationID,
		"target", contact.Target,
		"urgency", urgency,
	)
	return nil
}

// ClarifyStep asks the user the classifier's clarifying question instead
// of guessing at an answer.
type ClarifyStep struct{}

// NewClarifyStep creates a ClarifyStep.
func NewClarifyStep() *ClarifyStep { return &ClarifyStep{} }

// Name implements Step.
func (s *ClarifyStep) Name() string { return StateClarify }

// Run implements Step.
func (s *ClarifyStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateClarify))

	question := st.ClarifyingQuestion
	if question == "" {
		question = "Could you tell me a bit more about your situation — which sport, which organization, and what happened?"
	}
	st.Answer = question
	return nil
}

// EmotionalSupportStep acknowledges a distressed user's situation before
// pointing at support resources. It deliberately does not attempt to
// answer the governance question in the same turn.
type EmotionalSupportStep struct{}

// NewEmotionalSupportStep creates an EmotionalSupportStep.
func NewEmotionalSupportStep() *EmotionalSupportStep { return &EmotionalSupportStep{} }

// Name implements Step.
func (s *EmotionalSupportStep) Name() string { return StateEmotionalSupport }

// Run implements Step.
func (s *EmotionalSupportStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateEmotionalSupport))

	contact, ok := escalationContacts[st.TopicDomain]
	if !ok {
		contact = defaultEscalationContact
	}

	st.Answer = "I can hear this situation is really weighing on you, and that's completely understandable — " +
		"these processes are stressful even for experienced athletes. You don't have to work through it alone. " +
		contact.Details + " When you're ready, ask me the specific rule or process question and I'll walk you through it step by step."

	slog.Info("Provided emotional support response",
		"conversation_id", st.ConversationID,
		"emotional_state", st.EmotionalState,
	)
	return nil
}
