// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/pipeline"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func feedOf(records ...datatypes.FeedRecord) <-chan datatypes.FeedRecord {
	ch := make(chan datatypes.FeedRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	return ch
}

func adaptAll(t *testing.T, records ...datatypes.FeedRecord) []datatypes.StreamEvent {
	t.Helper()
	adapter := NewAdapter(DefaultConfig())
	var events []datatypes.StreamEvent
	for ev := range adapter.Adapt(context.Background(), feedOf(records...)) {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []datatypes.StreamEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func joinedText(events []datatypes.StreamEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == datatypes.EventTextDelta {
			sb.WriteString(ev.Content)
		}
	}
	return sb.String()
}

// assertSingleTerminalDone checks the universal stream contract.
func assertSingleTerminalDone(t *testing.T, events []datatypes.StreamEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, datatypes.EventDone, events[len(events)-1].Type, "done must be last")
	count := 0
	for _, ev := range events {
		if ev.Type == datatypes.EventDone {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one done per stream")
}

// =============================================================================
// Tests
// =============================================================================

func TestAdapter_EmptyFeedYieldsDoneOnly(t *testing.T) {
	events := adaptAll(t)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventDone, events[0].Type)
}

func TestAdapter_UnresolvedTokensFlushBeforeDone(t *testing.T) {
	events := adaptAll(t,
		datatypes.IncrementRecord("Hello", pipeline.StateSynthesize),
		datatypes.IncrementRecord(" world", pipeline.StateSynthesize),
	)

	require.Len(t, events, 3)
	assert.Equal(t, []string{datatypes.EventTextDelta, datatypes.EventTextDelta, datatypes.EventDone}, eventTypes(events))
	assert.Equal(t, "Hello", events[0].Content)
	assert.Equal(t, " world", events[1].Content)
}

func TestAdapter_QualityPassFlushesBuffer(t *testing.T) {
	pass := &datatypes.QualityResult{Passed: true, Score: 0.9}
	events := adaptAll(t,
		datatypes.IncrementRecord("The rule ", pipeline.StateSynthesize),
		datatypes.IncrementRecord("says...", pipeline.StateSynthesize),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "The rule says...", Quality: pass}),
	)

	assertSingleTerminalDone(t, events)
	assert.Equal(t, "The rule says...", joinedText(events))
}

func TestAdapter_RejectedDraftNeverReachesClient(t *testing.T) {
	fail := &datatypes.QualityResult{Passed: false, Critique: "too vague"}
	pass := &datatypes.QualityResult{Passed: true}

	events := adaptAll(t,
		datatypes.IncrementRecord("", pipeline.StateSynthesize),
		datatypes.IncrementRecord("Bad ", pipeline.StateSynthesize),
		datatypes.IncrementRecord("draft", pipeline.StateSynthesize),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Bad draft", Quality: fail, QualityRetries: 0}),
		datatypes.IncrementRecord("", pipeline.StateSynthesize),
		datatypes.IncrementRecord("Good ", pipeline.StateSynthesize),
		datatypes.IncrementRecord("answer", pipeline.StateSynthesize),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Good answer", Quality: pass, QualityRetries: 1}),
	)

	assertSingleTerminalDone(t, events)
	assert.Equal(t, "Good answer", joinedText(events))
	for _, ev := range events {
		assert.NotContains(t, ev.Content, "Bad", "discarded fragments must not appear")
	}
	// The synthesize label re-emits for the retry pass after the clear.
	statuses := 0
	for _, ev := range events {
		if ev.Type == datatypes.EventStatus {
			statuses++
			assert.Equal(t, statusLabels[pipeline.StateSynthesize], ev.Message)
		}
	}
	assert.Equal(t, 2, statuses)
}

func TestAdapter_ExhaustedRetriesFlushAnyway(t *testing.T) {
	fail := &datatypes.QualityResult{Passed: false}
	maxRetries := DefaultConfig().MaxQualityRetries

	events := adaptAll(t,
		datatypes.IncrementRecord("Best ", pipeline.StateSynthesize),
		datatypes.IncrementRecord("effort", pipeline.StateSynthesize),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Best effort", Quality: fail, QualityRetries: maxRetries}),
	)

	assertSingleTerminalDone(t, events)
	assert.Equal(t, "Best effort", joinedText(events))
}

func TestAdapter_RedeliveredQualityResultIsIgnored(t *testing.T) {
	pass := &datatypes.QualityResult{Passed: true}
	events := adaptAll(t,
		datatypes.IncrementRecord("Answer", pipeline.StateSynthesize),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Answer", Quality: pass}),
		// Cumulative snapshots redeliver the same result object.
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Answer", Quality: pass}),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Answer", Quality: pass}),
	)

	assertSingleTerminalDone(t, events)
	assert.Equal(t, "Answer", joinedText(events), "text must not duplicate on redelivery")
}

func TestAdapter_AnswerSuffixDiffForDirectSteps(t *testing.T) {
	events := adaptAll(t,
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Which sport"}),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Which sport do you compete in?"}),
	)

	assertSingleTerminalDone(t, events)
	require.Len(t, events, 3)
	assert.Equal(t, "Which sport", events[0].Content)
	assert.Equal(t, " do you compete in?", events[1].Content)
}

func TestAdapter_AnswerNotEmittedWhileTokensBuffered(t *testing.T) {
	events := adaptAll(t,
		datatypes.IncrementRecord("Streaming", pipeline.StateSynthesize),
		// Snapshot at the synthesize step boundary carries the full
		// answer while the verdict is pending.
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Streaming"}),
		datatypes.SnapshotRecord(&datatypes.PipelineState{Answer: "Streaming", Quality: &datatypes.QualityResult{Passed: true}}),
	)

	assertSingleTerminalDone(t, events)
	assert.Equal(t, "Streaming", joinedText(events))
}

func TestAdapter_StatusDeduplication(t *testing.T) {
	events := adaptAll(t,
		datatypes.IncrementRecord("", pipeline.StateClassify),
		datatypes.IncrementRecord("", pipeline.StateClassify),
		datatypes.IncrementRecord("", pipeline.StateRetrieve),
		datatypes.IncrementRecord("", pipeline.StateQualityCheck), // no label
	)

	assertSingleTerminalDone(t, events)
	require.Len(t, events, 3)
	assert.Equal(t, statusLabels[pipeline.StateClassify], events[0].Message)
	assert.Equal(t, statusLabels[pipeline.StateRetrieve], events[1].Message)
}

func TestAdapter_FirstDocumentsStatusOnce(t *testing.T) {
	docs := []datatypes.GovernanceDocument{{ID: "d1", Title: "Policy"}}
	events := adaptAll(t,
		datatypes.SnapshotRecord(&datatypes.PipelineState{}),
		datatypes.SnapshotRecord(&datatypes.PipelineState{RetrievedDocs: docs}),
		datatypes.SnapshotRecord(&datatypes.PipelineState{RetrievedDocs: docs}),
	)

	assertSingleTerminalDone(t, events)
	require.Len(t, events, 2)
	assert.Equal(t, datatypes.EventStatus, events[0].Type)
	assert.Equal(t, docsFoundStatus, events[0].Message)
}

func TestAdapter_MetadataEventsEmitOnce(t *testing.T) {
	citations := []datatypes.Citation{{Title: "Policy", Source: "policy_part_1"}}
	esc := &datatypes.Escalation{Target: "ombuds", Reason: "urgent", Urgency: "high"}
	snapshot := &datatypes.PipelineState{
		Citations:  citations,
		Escalation: esc,
		Disclaimer: "Not legal advice.",
	}

	events := adaptAll(t,
		datatypes.SnapshotRecord(snapshot),
		datatypes.SnapshotRecord(snapshot),
		datatypes.SnapshotRecord(snapshot),
	)

	assertSingleTerminalDone(t, events)
	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 1, counts[datatypes.EventCitations])
	assert.Equal(t, 1, counts[datatypes.EventEscalation])
	assert.Equal(t, 1, counts[datatypes.EventDisclaimer])
}

func TestAdapter_DiscoveredURLsBeforeDone(t *testing.T) {
	events := adaptAll(t,
		datatypes.SnapshotRecord(&datatypes.PipelineState{SourceURLs: []string{"https://a.example.org"}}),
		datatypes.SnapshotRecord(&datatypes.PipelineState{SourceURLs: []string{"https://a.example.org", "https://b.example.org"}}),
	)

	assertSingleTerminalDone(t, events)
	require.Len(t, events, 2)
	assert.Equal(t, datatypes.EventDiscoveredURLs, events[0].Type)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, events[0].URLs)
}

func TestAdapter_FailureFlushesThenErrorsThenDone(t *testing.T) {
	events := adaptAll(t,
		datatypes.SnapshotRecord(&datatypes.PipelineState{SourceURLs: []string{"https://a.example.org"}}),
		datatypes.IncrementRecord("Partial ", pipeline.StateSynthesize),
		datatypes.FailureRecord(errors.New("model exploded")),
	)

	require.Len(t, events, 3)
	assert.Equal(t, []string{datatypes.EventTextDelta, datatypes.EventError, datatypes.EventDone}, eventTypes(events))
	assert.Equal(t, "Partial ", events[0].Content)
	assert.Equal(t, CodeStreamError, events[1].Code)
	// Errored streams never emit discovered-urls, even when populated.
	for _, ev := range events {
		assert.NotEqual(t, datatypes.EventDiscoveredURLs, ev.Type)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"breaker open", fmt.Errorf("model: %w", resilience.ErrCircuitOpen), CodeDependencyUnavailable},
		{"breaker timeout", fmt.Errorf("op: %w", resilience.ErrTimeout), CodePipelineTimeout},
		{"deadline exceeded", context.DeadlineExceeded, CodePipelineTimeout},
		{"application code verbatim", datatypes.NewAppError("quota_exhausted", "monthly budget spent"), "quota_exhausted"},
		{"wrapped application code", fmt.Errorf("synthesis failed: %w", datatypes.NewAppError("content_blocked", "filtered")), "content_blocked"},
		{"generic", errors.New("boom"), CodeStreamError},
		{"nil", nil, CodeStreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}
