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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/memory"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/observability"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/pipeline"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/stream"
	"github.com/gin-gonic/gin"
)

// keepAliveInterval paces SSE comments through long dependency calls.
const keepAliveInterval = 15 * time.Second

// summaryTimeout bounds the post-stream summary refresh.
const summaryTimeout = 30 * time.Second

// AskDeps bundles what the streaming ask endpoint needs.
type AskDeps struct {
	Orchestrator *pipeline.Orchestrator
	Adapter      *stream.Adapter
	Memory       *memory.SummaryCache
	Summarizer   *memory.Summarizer
	Metrics      *observability.StreamingMetrics
}

// HandleAskStream serves POST /v1/ask/stream: runs the pipeline for one
// conversation and streams the adapted events over SSE. After the stream
// completes it refreshes the conversation summary asynchronously so the
// next turn starts from a bounded prompt.
func HandleAskStream(deps AskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		conversationID := req.EnsureConversationID()

		priorSummary, _ := deps.Memory.Get(conversationID)
		state := &datatypes.PipelineState{
			Turns:          req.Turns,
			ConversationID: conversationID,
			SportContext:   req.SportContext,
			PriorSummary:   priorSummary,
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		started := time.Now()
		deps.Metrics.ActiveStreams.Inc()
		defer deps.Metrics.ActiveStreams.Dec()

		ctx := c.Request.Context()
		feed := deps.Orchestrator.Run(ctx, state)
		events := deps.Adapter.Adapt(ctx, feed)

		outcome := "ok"
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
	stream:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break stream
				}
				deps.Metrics.EventsTotal.WithLabelValues(ev.Type).Inc()
				if ev.Type == datatypes.EventError {
					outcome = "error"
					deps.Metrics.ErrorsTotal.WithLabelValues(ev.Code).Inc()
				}
				if err := writer.WriteEvent(ev); err != nil {
					slog.Warn("client disconnected mid-stream",
						"conversation_id", conversationID,
						"error", err,
					)
					outcome = "client_gone"
					break stream
				}
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					outcome = "client_gone"
					break stream
				}
			}
		}
		deps.Metrics.ObserveStream(outcome, started)

		// On a disconnect the pipeline may still be running and writing to
		// state. Drain the event channel to closure: the adapter closes it
		// only after the pipeline's feed closes, which is after the final
		// state write, so the answer is stable for summarization.
		for range events {
		}

		go refreshSummary(deps, conversationID, req.Turns, state.Answer, priorSummary)
	}
}

// refreshSummary folds the completed turn into the rolling conversation
// summary in the background; the client never waits on it.
func refreshSummary(deps AskDeps, conversationID string, turns []datatypes.Message, answer, priorSummary string) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	if answer != "" {
		turns = append(turns, datatypes.Message{Role: "assistant", Content: answer})
	}
	summary := deps.Summarizer.GenerateSummary(ctx, turns, priorSummary)
	if summary == "" {
		return
	}
	deps.Memory.Set(conversationID, summary)
	slog.Debug("Refreshed conversation summary",
		"conversation_id", conversationID,
		"summary_chars", len(summary),
	)
}
