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
	"log/slog"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

// RetrieveStep searches the governance knowledge index for material
// relevant to the user's question. Search failures degrade to empty
// results with RetrievalFailed status rather than aborting the pipeline.
type RetrieveStep struct {
	index               clients.DocumentSearcher
	topK                int
	confidenceThreshold float64
}

// NewRetrieveStep creates a RetrieveStep.
func NewRetrieveStep(index clients.DocumentSearcher, topK int, confidenceThreshold float64) *RetrieveStep {
	return &RetrieveStep{index: index, topK: topK, confidenceThreshold: confidenceThreshold}
}

// Name implements Step.
func (s *RetrieveStep) Name() string { return StateRetrieve }

// Run implements Step.
func (s *RetrieveStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateRetrieve))

	var filter *clients.SearchFilter
	if len(st.DetectedOrgIDs) > 0 || st.TopicDomain != "" {
		filter = &clients.SearchFilter{
			OrgIDs: st.DetectedOrgIDs,
			Domain: st.TopicDomain,
		}
	}

	docs, err := s.index.Search(ctx, st.LastUserMessage(), s.topK, filter)
	if err != nil {
		slog.Warn("retrieval failed, continuing without documents",
			"conversation_id", st.ConversationID,
			"error", err,
		)
		st.RetrievedDocs = nil
		st.Confidence = 0
		st.RetrievalStatus = datatypes.RetrievalFailed
		return nil
	}

	st.RetrievedDocs = docs
	switch {
	case len(docs) == 0:
		st.Confidence = 0
		st.RetrievalStatus = datatypes.RetrievalNoResults
	default:
		// Results arrive ranked by certainty descending; the top hit's
		// score is the confidence signal for the research decision.
		st.Confidence = docs[0].Score
		if st.Confidence < s.confidenceThreshold {
			st.RetrievalStatus = datatypes.RetrievalLowConfidence
		} else {
			st.RetrievalStatus = datatypes.RetrievalOK
		}
	}

	slog.Info("Retrieved governance documents",
		"conversation_id", st.ConversationID,
		"hits", len(docs),
		"confidence", st.Confidence,
		"status", st.RetrievalStatus,
	)
	return nil
}
