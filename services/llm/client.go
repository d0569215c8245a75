// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the supported language-model backends.
// The backend is selected by environment at startup; callers only see the
// LLMClient interface.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
)

// GenerationParams tunes a single generation request. Nil fields use the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Float32 returns a pointer to v, for building GenerationParams inline.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for building GenerationParams inline.
func Int(v int) *int { return &v }

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a completion for a single user prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a full role-tagged conversation.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream behaves like Chat but delivers tokens through onToken as
	// they arrive, returning the accumulated text at the end.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, onToken func(string)) (string, error)
}

// Embedder defines the embedding operations the retrieval path needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// NewClientFromEnv selects a backend from LLM_BACKEND ("anthropic" or
// "openai"). When unset it prefers Anthropic and falls back to OpenAI,
// matching whichever credentials are present.
func NewClientFromEnv() (LLMClient, error) {
	backend := strings.ToLower(os.Getenv("LLM_BACKEND"))

	switch backend {
	case "anthropic":
		return NewAnthropicClient()
	case "openai":
		return NewOpenAIClient()
	case "":
		if client, err := NewAnthropicClient(); err == nil {
			return client, nil
		}
		slog.Info("Anthropic credentials unavailable, trying OpenAI")
		return NewOpenAIClient()
	default:
		return nil, fmt.Errorf("unknown LLM_BACKEND %q", backend)
	}
}

// readSecret loads a credential from env, falling back to the container
// secrets mount the same way the rest of the platform does.
func readSecret(envName, secretPath string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		slog.Info("Read credential from secrets mount", "env", envName)
		return strings.TrimSpace(string(content))
	}
	return ""
}
