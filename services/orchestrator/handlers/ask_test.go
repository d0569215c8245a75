// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/memory"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/observability"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/pipeline"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

// slowBackend scripts the model roles by sniffing the system prompt and
// streams synthesis tokens with a delay, so a client that drops early
// disconnects while synthesis is still in flight.
type slowBackend struct {
	answer     string
	tokenDelay time.Duration
}

func (b *slowBackend) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return b.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
}

func (b *slowBackend) Chat(_ context.Context, messages []datatypes.Message, _ llm.GenerationParams) (string, error) {
	sys := messages[0].Content
	switch {
	case strings.Contains(sys, "triage"):
		return `{"topicDomain":"eligibility","queryIntent":"rule_clarification","detectedOrgIds":["ngb1"]}`, nil
	case strings.Contains(sys, "reviewing a draft"):
		return `{"passed":true,"score":0.9}`, nil
	case strings.Contains(sys, "running summary"):
		// Echo the transcript so the test can see which answer text the
		// summary was computed from.
		return messages[1].Content, nil
	}
	return "", errors.New("unexpected chat call")
}

func (b *slowBackend) ChatStream(ctx context.Context, _ []datatypes.Message, _ llm.GenerationParams, onToken func(string)) (string, error) {
	for _, word := range strings.SplitAfter(b.answer, " ") {
		if b.tokenDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(b.tokenDelay):
			}
		}
		onToken(word)
	}
	return b.answer, nil
}

type stubIndex struct{}

func (stubIndex) Search(_ context.Context, _ string, _ int, _ *clients.SearchFilter) ([]datatypes.GovernanceDocument, error) {
	return []datatypes.GovernanceDocument{
		{ID: "d1", Title: "Eligibility Policy", Source: "eligibility_policy_part_1", Content: "...", Score: 0.8},
	}, nil
}

type stubWeb struct{}

func (stubWeb) Search(_ context.Context, _ string) ([]datatypes.WebResult, error) {
	return nil, nil
}

// brokenWriter fails every body write, standing in for a client whose
// connection dropped mid-stream.
type brokenWriter struct {
	header http.Header
	writes int
}

func (w *brokenWriter) Header() http.Header { return w.header }
func (w *brokenWriter) WriteHeader(int)     {}
func (w *brokenWriter) Flush()              {}
func (w *brokenWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("write tcp: broken pipe")
}

// =============================================================================
// Helpers
// =============================================================================

func newAskDeps(backend llm.LLMClient) (AskDeps, *memory.SummaryCache) {
	breaker := resilience.New(resilience.Config{
		Name:             "model",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})
	model := clients.NewModelClient(backend, breaker)
	cache := memory.NewSummaryCache(memory.DefaultCapacity, memory.DefaultTTL)

	deps := AskDeps{
		Orchestrator: pipeline.New(model, stubIndex{}, stubWeb{}, pipeline.DefaultConfig()),
		Adapter:      stream.NewAdapter(stream.DefaultConfig()),
		Memory:       cache,
		Summarizer:   memory.NewSummarizer(model),
		Metrics:      observability.NewStreamingMetrics(prometheus.NewRegistry()),
	}
	return deps, cache
}

func askContext(t *testing.T, w http.ResponseWriter, conversationID string) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(w)
	body := `{"conversation_id":"` + conversationID + `","turns":[{"role":"user","content":"Am I eligible after changing clubs?"}]}`
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleAskStream_StreamsEventsAndRefreshesSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)

	answer := "You stay eligible if the transfer form is filed on time."
	deps, cache := newAskDeps(&slowBackend{answer: answer})

	rec := httptest.NewRecorder()
	HandleAskStream(deps)(askContext(t, rec, "conv_ok"))

	body := rec.Body.String()
	require.Contains(t, body, "event: status")
	require.Contains(t, body, "event: text-delta")
	require.Contains(t, body, "event: citations")
	require.Contains(t, body, "event: done")

	require.Eventually(t, func() bool {
		summary, ok := cache.Get("conv_ok")
		return ok && strings.Contains(summary, answer)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleAskStream_ClientGoneStillSummarizesCompletedAnswer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// The first event write fails while synthesis is still streaming, so
	// the handler must wait for the pipeline to finish before it reads the
	// answer for summarization.
	answer := "Your eligibility carries over once the transfer form is filed on time."
	deps, cache := newAskDeps(&slowBackend{answer: answer, tokenDelay: 3 * time.Millisecond})

	w := &brokenWriter{header: http.Header{}}
	HandleAskStream(deps)(askContext(t, w, "conv_gone"))

	require.GreaterOrEqual(t, w.writes, 1, "at least one event write should have been attempted")

	require.Eventually(t, func() bool {
		summary, ok := cache.Get("conv_gone")
		return ok && strings.Contains(summary, answer)
	}, 2*time.Second, 5*time.Millisecond)
}
