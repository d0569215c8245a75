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

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

// governanceDisclaimer is attached to answers in domains where getting
// the details wrong has formal consequences.
const governanceDisclaimer = "This is general guidance, not legal advice. Rules differ between organizations and change over time; always confirm deadlines and requirements with your governing body before acting."

// disclaimerDomains are the topic domains that require the disclaimer.
var disclaimerDomains = map[datatypes.TopicDomain]bool{
	datatypes.DomainAntiDoping:   true,
	datatypes.DomainSafeguarding: true,
	datatypes.DomainDiscipline:   true,
}

// FinalizeStep post-processes the answer: builds deduplicated citations
// from the retrieved and researched sources and attaches the disclaimer
// where the domain requires one.
type FinalizeStep struct{}

// NewFinalizeStep creates a FinalizeStep.
func NewFinalizeStep() *FinalizeStep { return &FinalizeStep{} }

// Name implements Step.
func (s *FinalizeStep) Name() string { return StateFinalize }

// Run implements Step.
func (s *FinalizeStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	st.Citations = buildCitations(st)

	if disclaimerDomains[st.TopicDomain] {
		st.DisclaimerRequired = true
		st.Disclaimer = governanceDisclaimer
	}
	return nil
}

// buildCitations collects one citation per distinct source across the
// retrieved documents and web results, in encounter order.
func buildCitations(st *datatypes.PipelineState) []datatypes.Citation {
	seen := make(map[string]bool)
	var citations []datatypes.Citation

	add := func(title, source string) {
		if source == "" || seen[source] {
			return
		}
		seen[source] = true
		citations = append(citations, datatypes.Citation{Title: title, Source: source})
	}

	for _, doc := range st.RetrievedDocs {
		add(doc.Title, doc.Source)
	}
	for _, r := range st.WebResults {
		add(r.Title, r.URL)
	}
	return citations
}
