// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the AthleteGov
// orchestrator: the pipeline state passed between processing steps, the
// closed classification enums, the internal event feed records, and the
// client-facing stream events.
package datatypes

import "strings"

// =============================================================================
// Closed Classification Enums
// =============================================================================

// TopicDomain is the closed set of governance areas a question can be
// classified into. Invalid model output is coerced to DefaultTopicDomain
// and logged, never propagated raw.
type TopicDomain string

const (
	DomainTeamSelection TopicDomain = "team_selection"
	DomainAntiDoping    TopicDomain = "anti_doping"
	DomainEligibility   TopicDomain = "eligibility"
	DomainDiscipline    TopicDomain = "discipline"
	DomainFunding       TopicDomain = "funding"
	DomainSafeguarding  TopicDomain = "safeguarding"
	DomainGovernance    TopicDomain = "governance"
)

// DefaultTopicDomain is the fallback used when the classifier produces a
// value outside the closed set.
const DefaultTopicDomain = DomainTeamSelection

// Valid reports whether the domain is a member of the closed set.
func (d TopicDomain) Valid() bool {
	switch d {
	case DomainTeamSelection, DomainAntiDoping, DomainEligibility,
		DomainDiscipline, DomainFunding, DomainSafeguarding, DomainGovernance:
		return true
	}
	return false
}

// QueryIntent is the closed set of intents used to route response style.
type QueryIntent string

const (
	IntentGeneral           QueryIntent = "general"
	IntentRuleClarification QueryIntent = "rule_clarification"
	IntentAppealProcess     QueryIntent = "appeal_process"
	IntentComplaint         QueryIntent = "complaint"
	IntentUrgentHelp        QueryIntent = "urgent_help"
)

// DefaultQueryIntent is the fallback used when the classifier produces a
// value outside the closed set.
const DefaultQueryIntent = IntentGeneral

// Valid reports whether the intent is a member of the closed set.
func (i QueryIntent) Valid() bool {
	switch i {
	case IntentGeneral, IntentRuleClarification, IntentAppealProcess,
		IntentComplaint, IntentUrgentHelp:
		return true
	}
	return false
}

// EmotionalState tags the user's apparent emotional register so the
// pipeline can route distressed users to supportive framing.
type EmotionalState string

const (
	EmotionNeutral    EmotionalState = "neutral"
	EmotionFrustrated EmotionalState = "frustrated"
	EmotionAnxious    EmotionalState = "anxious"
	EmotionDistressed EmotionalState = "distressed"
)

// Valid reports whether the state is a member of the closed set.
func (e EmotionalState) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionFrustrated, EmotionAnxious, EmotionDistressed:
		return true
	}
	return false
}

// RetrievalStatus describes the outcome of the retrieval step.
type RetrievalStatus string

const (
	RetrievalOK            RetrievalStatus = "ok"
	RetrievalLowConfidence RetrievalStatus = "low_confidence"
	RetrievalNoResults     RetrievalStatus = "no_results"
	RetrievalFailed        RetrievalStatus = "failed"
)

// =============================================================================
// Pipeline State
// =============================================================================

// Message is a single role-tagged conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Escalation records a flagged need to redirect the user to an external
// contact or process.
type Escalation struct {
	Target  string `json:"target"`
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
}

// QualityResult is the outcome of one automated quality check over a draft
// answer. Each check produces a fresh instance; consumers use pointer
// identity to detect a new result, because snapshots redeliver cumulative
// state and a value comparison would mistake a stale result for a new one.
type QualityResult struct {
	Passed   bool     `json:"passed"`
	Score    float64  `json:"score"`
	Issues   []string `json:"issues,omitempty"`
	Critique string   `json:"critique,omitempty"`
}

// PipelineState is the unit of work passed through every processing step.
// Steps mutate it in place; the orchestrator emits an immutable snapshot
// copy after each step completes.
type PipelineState struct {
	Turns          []Message
	ConversationID string
	SportContext   string
	PriorSummary   string

	TopicDomain    TopicDomain
	DetectedOrgIDs []string
	QueryIntent    QueryIntent

	ShouldEscalate   bool
	EscalationReason string
	TimeSensitive    bool

	NeedsClarification bool
	ClarifyingQuestion string
	EmotionalState     EmotionalState

	RetrievedDocs   []GovernanceDocument
	Confidence      float64
	RetrievalStatus RetrievalStatus

	WebResults []WebResult
	SourceURLs []string

	Answer    string
	Citations []Citation

	Escalation         *Escalation
	DisclaimerRequired bool
	Disclaimer         string

	// Quality is replaced with a fresh pointer on every check; the retry
	// counter never exceeds the orchestrator's configured maximum.
	Quality        *QualityResult
	QualityRetries int
}

// Clone returns a snapshot copy of the state. Slice headers are copied so
// later step mutations (which always assign new slices) do not alter
// previously emitted snapshots. The Quality pointer is shared deliberately:
// its identity is the novelty signal for downstream consumers.
func (s *PipelineState) Clone() *PipelineState {
	cp := *s
	return &cp
}

// LastUserMessage returns the content of the most recent user turn, or ""
// when the conversation has no user turn.
func (s *PipelineState) LastUserMessage() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if strings.EqualFold(s.Turns[i].Role, "user") {
			return s.Turns[i].Content
		}
	}
	return ""
}
