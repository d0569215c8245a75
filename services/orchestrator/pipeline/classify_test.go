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
	"reflect"
	"testing"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

func TestParseClassifierOutput(t *testing.T) {
	tests := []struct {
		name            string
		raw             string
		wantDomain      datatypes.TopicDomain
		wantIntent      datatypes.QueryIntent
		wantOrgIDs      []string
		wantEmotion     datatypes.EmotionalState
		wantDiagnostics int
	}{
		{
			name:            "valid output",
			raw:             `{"topicDomain":"anti_doping","queryIntent":"appeal_process","detectedOrgIds":["wada","usada"],"emotionalState":"anxious"}`,
			wantDomain:      datatypes.DomainAntiDoping,
			wantIntent:      datatypes.IntentAppealProcess,
			wantOrgIDs:      []string{"wada", "usada"},
			wantEmotion:     datatypes.EmotionAnxious,
			wantDiagnostics: 0,
		},
		{
			name:            "both enums invalid with mixed org entries",
			raw:             `{"topicDomain":"bogus","queryIntent":"bogus","detectedOrgIds":["x","",42],"shouldEscalate":false}`,
			wantDomain:      datatypes.DomainTeamSelection,
			wantIntent:      datatypes.IntentGeneral,
			wantOrgIDs:      []string{"x"},
			wantEmotion:     datatypes.EmotionNeutral,
			wantDiagnostics: 2,
		},
		{
			name:            "code-fenced output",
			raw:             "```json\n{\"topicDomain\":\"funding\",\"queryIntent\":\"general\"}\n```",
			wantDomain:      datatypes.DomainFunding,
			wantIntent:      datatypes.IntentGeneral,
			wantEmotion:     datatypes.EmotionNeutral,
			wantDiagnostics: 0,
		},
		{
			name:            "absent fields default",
			raw:             `{"topicDomain":"eligibility","queryIntent":"complaint"}`,
			wantDomain:      datatypes.DomainEligibility,
			wantIntent:      datatypes.IntentComplaint,
			wantEmotion:     datatypes.EmotionNeutral,
			wantDiagnostics: 0,
		},
		{
			name:            "invalid emotional state coerced without diagnostic",
			raw:             `{"topicDomain":"governance","queryIntent":"general","emotionalState":"furious"}`,
			wantDomain:      datatypes.DomainGovernance,
			wantIntent:      datatypes.IntentGeneral,
			wantEmotion:     datatypes.EmotionNeutral,
			wantDiagnostics: 0,
		},
		{
			name:            "unparseable output falls back entirely",
			raw:             "I think this is about doping rules",
			wantDomain:      datatypes.DomainTeamSelection,
			wantIntent:      datatypes.IntentGeneral,
			wantEmotion:     datatypes.EmotionNeutral,
			wantDiagnostics: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, diagnostics := parseClassifierOutput(tt.raw)
			if result.TopicDomain != tt.wantDomain {
				t.Errorf("domain = %q, want %q", result.TopicDomain, tt.wantDomain)
			}
			if result.QueryIntent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", result.QueryIntent, tt.wantIntent)
			}
			if !reflect.DeepEqual(result.DetectedOrgIDs, tt.wantOrgIDs) {
				t.Errorf("org ids = %v, want %v", result.DetectedOrgIDs, tt.wantOrgIDs)
			}
			if result.EmotionalState != tt.wantEmotion {
				t.Errorf("emotional state = %q, want %q", result.EmotionalState, tt.wantEmotion)
			}
			if len(diagnostics) != tt.wantDiagnostics {
				t.Errorf("diagnostics = %v, want %d", diagnostics, tt.wantDiagnostics)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFence(tt.in); got != tt.want {
				t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
