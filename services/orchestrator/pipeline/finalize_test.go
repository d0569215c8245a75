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
	"testing"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

func TestBuildCitations_DeduplicatesBySource(t *testing.T) {
	st := &datatypes.PipelineState{
		RetrievedDocs: []datatypes.GovernanceDocument{
			{Title: "Policy A", Source: "policy_a_part_1"},
			{Title: "Policy A", Source: "policy_a_part_1"},
			{Title: "Policy B", Source: "policy_b_part_2"},
		},
		WebResults: []datatypes.WebResult{
			{Title: "Official FAQ", URL: "https://ngb.example.org/faq"},
			{Title: "Official FAQ again", URL: "https://ngb.example.org/faq"},
		},
	}

	citations := buildCitations(st)
	if len(citations) != 3 {
		t.Fatalf("expected 3 citations, got %d: %v", len(citations), citations)
	}
	if citations[0].Source != "policy_a_part_1" || citations[2].Source != "https://ngb.example.org/faq" {
		t.Errorf("unexpected citation order: %v", citations)
	}
}

func TestFinalize_DisclaimerOnlyForSensitiveDomains(t *testing.T) {
	tests := []struct {
		domain datatypes.TopicDomain
		want   bool
	}{
		{datatypes.DomainAntiDoping, true},
		{datatypes.DomainSafeguarding, true},
		{datatypes.DomainDiscipline, true},
		{datatypes.DomainTeamSelection, false},
		{datatypes.DomainFunding, false},
	}

	step := NewFinalizeStep()
	for _, tt := range tests {
		st := &datatypes.PipelineState{TopicDomain: tt.domain}
		if err := step.Run(context.Background(), st, func(datatypes.FeedRecord) {}); err != nil {
			t.Fatalf("finalize returned error: %v", err)
		}
		if st.DisclaimerRequired != tt.want {
			t.Errorf("domain %q: disclaimer required = %v, want %v", tt.domain, st.DisclaimerRequired, tt.want)
		}
		if tt.want && st.Disclaimer == "" {
			t.Errorf("domain %q: disclaimer text missing", tt.domain)
		}
	}
}
