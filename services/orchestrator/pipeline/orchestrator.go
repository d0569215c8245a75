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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var orchestratorTracer = otel.Tracer("athletegov.orchestrator.pipeline")

// feedBuffer smooths token bursts between the synthesis stream and the
// adapter without letting the pipeline run unboundedly ahead.
const feedBuffer = 32

// Config holds the orchestrator's tunable thresholds. The defaults are
// the production values; they exist as named configuration rather than
// inline literals.
type Config struct {
	// ConfidenceThreshold is the retrieval confidence below which the
	// research fallback runs.
	ConfidenceThreshold float64

	// MaxQualityRetries caps how many times a rejected draft is
	// re-synthesized before the best effort is accepted.
	MaxQualityRetries int

	// RetrieveTopK is how many documents retrieval requests.
	RetrieveTopK int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		MaxQualityRetries:   2,
		RetrieveTopK:        6,
	}
}

// Orchestrator sequences the processing steps as a finite-state machine
// over the pipeline state, emitting the internal feed the stream adapter
// consumes. Construct once and share; each Run serves one request.
type Orchestrator struct {
	cfg   Config
	steps map[string]Step
}

// New wires the step dispatch table from the dependency wrappers.
func New(model clients.ModelInvoker, index clients.DocumentSearcher, web clients.WebSearcher, cfg Config) *Orchestrator {
	steps := []Step{
		NewClassifyStep(model),
		NewRetrieveStep(index, cfg.RetrieveTopK, cfg.ConfidenceThreshold),
		NewResearchStep(web),
		NewSynthesizeStep(model),
		NewQualityCheckStep(model),
		NewEscalateStep(),
		NewClarifyStep(),
		NewEmotionalSupportStep(),
		NewFinalizeStep(),
	}

	table := make(map[string]Step, len(steps))
	for _, s := range steps {
		table[s.Name()] = s
	}
	return &Orchestrator{cfg: cfg, steps: table}
}

// Run executes the pipeline for one request and returns the internal
// feed. The channel is closed when the pipeline reaches done or fails;
// a consumer that stops reading simply stalls the pipeline until its
// context ends.
func (o *Orchestrator) Run(ctx context.Context, st *datatypes.PipelineState) <-chan datatypes.FeedRecord {
	out := make(chan datatypes.FeedRecord, feedBuffer)
	go func() {
		defer close(out)
		o.run(ctx, st, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, st *datatypes.PipelineState, out chan<- datatypes.FeedRecord) {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", st.ConversationID))

	emit := func(rec datatypes.FeedRecord) {
		select {
		case out <- rec:
		case <-ctx.Done():
		}
	}

	state := StateClassify
	for state != StateDone {
		step := o.steps[state]
		if step == nil {
			slog.Error("no step registered for state", "state", state)
			return
		}

		if err := step.Run(ctx, st, emit); err != nil {
			// Only the synthesis path propagates errors. Finalize the
			// partial state first so citations and disclaimers still
			// reach the client, then surface the failure.
			span.RecordError(err)
			slog.Error("pipeline step failed",
				"conversation_id", st.ConversationID,
				"state", state,
				"error", err,
			)
			if fin := o.steps[StateFinalize]; fin != nil {
				_ = fin.Run(ctx, st, emit)
			}
			emit(datatypes.SnapshotRecord(st.Clone()))
			emit(datatypes.FailureRecord(err))
			return
		}

		emit(datatypes.SnapshotRecord(st.Clone()))
		state = o.transition(state, st)

		if ctx.Err() != nil {
			return
		}
	}

	span.SetAttributes(
		attribute.String("domain", string(st.TopicDomain)),
		attribute.Int("quality_retries", st.QualityRetries),
	)
}

// transition computes the next state from the current one and the state
// the completed step left behind. The quality-retry counter is owned
// here, not by the steps, so the retry loop is bounded in exactly one
// place.
func (o *Orchestrator) transition(current string, st *datatypes.PipelineState) string {
	switch current {
	case StateClassify:
		switch {
		case st.NeedsClarification:
			return StateClarify
		case st.ShouldEscalate:
			return StateEscalate
		case st.EmotionalState == datatypes.EmotionDistressed:
			return StateEmotionalSupport
		default:
			return StateRetrieve
		}
	case StateRetrieve:
		if st.Confidence < o.cfg.ConfidenceThreshold {
			return StateResearch
		}
		return StateSynthesize
	case StateResearch:
		return StateSynthesize
	case StateSynthesize:
		return StateQualityCheck
	case StateQualityCheck:
		if st.Quality != nil && !st.Quality.Passed && st.QualityRetries < o.cfg.MaxQualityRetries {
			st.QualityRetries++
			return StateSynthesize
		}
		return StateFinalize
	case StateClarify, StateEscalate, StateEmotionalSupport:
		return StateFinalize
	case StateFinalize:
		return StateDone
	}
	return StateDone
}
