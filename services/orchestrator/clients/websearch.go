// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
)

// defaultSearchAPIURL is the Tavily-compatible search endpoint used when
// SEARCH_API_URL is not set.
const defaultSearchAPIURL = "https://api.tavily.com/search"

// searchMaxResults bounds how many hits one query requests.
const searchMaxResults = 5

// WebSearcher is the contract the research step consumes.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]datatypes.WebResult, error)
}

// Compile-time interface implementation check.
var _ WebSearcher = (*WebSearchClient)(nil)

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// WebSearchClient calls an external search API and normalizes its results.
// All calls go through the web-search breaker with fallback semantics:
// when the provider or the breaker fails, Search degrades to empty results
// rather than failing the pipeline.
type WebSearchClient struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	breaker    *resilience.CircuitBreaker
}

// NewWebSearchClient builds a client from SEARCH_API_URL and
// SEARCH_API_KEY (or the secrets mount).
func NewWebSearchClient(breaker *resilience.CircuitBreaker) *WebSearchClient {
	apiURL := os.Getenv("SEARCH_API_URL")
	if apiURL == "" {
		apiURL = defaultSearchAPIURL
		slog.Warn("SEARCH_API_URL not set, using default", "url", apiURL)
	}

	apiKey := os.Getenv("SEARCH_API_KEY")
	if apiKey == "" {
		if content, err := os.ReadFile("/run/secrets/search_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(content))
		}
	}

	return &WebSearchClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiURL:     apiURL,
		apiKey:     apiKey,
		breaker:    breaker,
	}
}

// Search runs one web query. It never returns an error for provider or
// breaker failures; those degrade to an empty result set.
func (c *WebSearchClient) Search(ctx context.Context, query string) ([]datatypes.WebResult, error) {
	var results []datatypes.WebResult
	err := c.breaker.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			return withRetry(ctx, resilience.BreakerWebSearch, func(ctx context.Context) error {
				found, err := c.searchOnce(ctx, query)
				if err != nil {
					return err
				}
				results = found
				return nil
			})
		},
		func(ctx context.Context) error {
			slog.Warn("web search degraded to empty results", "query", query)
			results = nil
			return nil
		},
	)
	return results, err
}

func (c *WebSearchClient) searchOnce(ctx context.Context, query string) ([]datatypes.WebResult, error) {
	payload, err := json.Marshal(searchRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: searchMaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]datatypes.WebResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, datatypes.WebResult{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}
