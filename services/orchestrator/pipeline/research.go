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
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"golang.org/x/sync/errgroup"
)

// maxResearchQueries bounds how many web queries one research pass runs.
const maxResearchQueries = 3

// ResearchStep falls back to web search when index retrieval came back
// with low confidence. Queries run concurrently; individual failures are
// tolerated and the step degrades to empty results rather than failing.
type ResearchStep struct {
	web clients.WebSearcher
}

// NewResearchStep creates a ResearchStep.
func NewResearchStep(web clients.WebSearcher) *ResearchStep {
	return &ResearchStep{web: web}
}

// Name implements Step.
func (s *ResearchStep) Name() string { return StateResearch }

// Run implements Step.
func (s *ResearchStep) Run(ctx context.Context, st *datatypes.PipelineState, emit emitFunc) error {
	emit(datatypes.IncrementRecord("", StateResearch))

	queries := buildResearchQueries(st)
	if len(queries) == 0 {
		return nil
	}

	var mu sync.Mutex
	var found []datatypes.WebResult
	g := new(errgroup.Group)
	g.SetLimit(maxResearchQueries)
	for _, query := range queries {
		q := query
		g.Go(func() error {
			results, err := s.web.Search(ctx, q)
			if err != nil {
				// Individual query failures are tolerated; the step
				// degrades to whatever the other queries found.
				slog.Warn("research query failed",
					"conversation_id", st.ConversationID,
					"query", q,
					"error", err,
				)
				return nil
			}
			mu.Lock()
			found = append(found, results...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	st.WebResults = dedupeAndRank(found)
	for _, r := range st.WebResults {
		st.SourceURLs = append(st.SourceURLs, r.URL)
	}

	slog.Info("Research complete",
		"conversation_id", st.ConversationID,
		"queries", len(queries),
		"results", len(st.WebResults),
	)
	return nil
}

// buildResearchQueries produces one to three queries: the most recent user
// turns when conversational context exists, otherwise a deterministic
// keyword composition from the classification.
func buildResearchQueries(st *datatypes.PipelineState) []string {
	var queries []string
	for i := len(st.Turns) - 1; i >= 0 && len(queries) < maxResearchQueries; i-- {
		if strings.EqualFold(st.Turns[i].Role, "user") && strings.TrimSpace(st.Turns[i].Content) != "" {
			queries = append(queries, st.Turns[i].Content)
		}
	}
	if len(queries) > 0 {
		return queries
	}

	parts := []string{string(st.TopicDomain)}
	parts = append(parts, st.DetectedOrgIDs...)
	if st.SportContext != "" {
		parts = append(parts, st.SportContext)
	}
	parts = append(parts, "athlete governance rules")
	return []string{strings.Join(parts, " ")}
}

// dedupeAndRank collapses results sharing a normalized URL, keeping the
// highest-scored occurrence, and orders by relevance score descending.
func dedupeAndRank(results []datatypes.WebResult) []datatypes.WebResult {
	best := make(map[string]datatypes.WebResult)
	var order []string
	for _, r := range results {
		key := normalizeURL(r.URL)
		if key == "" {
			continue
		}
		existing, seen := best[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || r.Score > existing.Score {
			best[key] = r
		}
	}

	deduped := make([]datatypes.WebResult, 0, len(order))
	for _, key := range order {
		deduped = append(deduped, best[key])
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	return deduped
}

// normalizeURL lowercases and strips scheme and trailing slash so trivially
// different spellings of the same address collapse together.
func normalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}
